package pipeline

import (
	"errors"
	"fmt"

	"github.com/goplus/llpm/internal/build"
	"github.com/goplus/llpm/internal/deps"
	"github.com/goplus/llpm/internal/source"
	"github.com/goplus/llpm/manifest"
	"github.com/goplus/llpm/mod/module"
)

// Stage names a step of a package build.
type Stage string

const (
	StageValidate     Stage = "validate"
	StageDependencies Stage = "dependencies"
	StageLock         Stage = "lock"
	StageSource       Stage = "source"
	StageBuild        Stage = "build"
	StageCollect      Stage = "collect"
	StagePublish      Stage = "publish"
)

// StageError reports the stage a package build failed in.
type StageError struct {
	Package module.Version
	Stage   Stage
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Package, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// kinds are the reportable error kinds, most specific first.
var kinds = []error{
	deps.ErrCyclicDependency,
	deps.ErrDependencyBuildFailed,
	build.ErrBuildTimedOut,
	manifest.ErrValidation,
	source.ErrSourceUnavailable,
	source.ErrRevisionNotFound,
	build.ErrConfigureFailed,
	build.ErrBuildFailed,
}

// Failure summarizes a failed run.
type Failure struct {
	Package module.Version // innermost failing package, if known
	Stage   Stage
	Kind    error // one of the error kinds, nil if unclassified
	Err     error
}

// Describe finds the failing package, stage and error kind of err.
func Describe(err error) Failure {
	f := Failure{Err: err}
	var se *StageError
	for e := err; errors.As(e, &se); e = se.Err {
		f.Package, f.Stage = se.Package, se.Stage
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			f.Kind = kind
			break
		}
	}
	return f
}
