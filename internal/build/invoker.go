// Package build invokes external build tools on acquired source trees.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

var (
	ErrConfigureFailed = errors.New("configure failed")
	ErrBuildFailed     = errors.New("build failed")
	ErrBuildTimedOut   = errors.New("build timed out")
)

// Output describes a finished build.
type Output struct {
	BuildDir string
	Commands []string // command lines run, in order
}

// Invoker runs build tools. It never retries.
type Invoker struct {
	runner  Runner
	tools   map[string]Tool
	timeout time.Duration
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithTimeout bounds each build. Zero means no bound.
func WithTimeout(d time.Duration) InvokerOption {
	return func(inv *Invoker) {
		inv.timeout = d
	}
}

// WithTool registers or replaces a build tool.
func WithTool(t Tool) InvokerOption {
	return func(inv *Invoker) {
		inv.tools[t.Name()] = t
	}
}

// NewInvoker creates an Invoker running commands through r.
func NewInvoker(r Runner, opts ...InvokerOption) *Invoker {
	inv := &Invoker{runner: r, tools: Tools()}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Build configures and builds req.
func (inv *Invoker) Build(ctx context.Context, req *Request) (*Output, error) {
	tool, ok := inv.tools[req.Config.Tool]
	if !ok {
		return nil, fmt.Errorf("%w: unknown build tool %q", ErrConfigureFailed, req.Config.Tool)
	}
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, inv.timeout, ErrBuildTimedOut)
		defer cancel()
	}
	if err := os.MkdirAll(req.BuildDir, 0755); err != nil {
		return nil, err
	}

	out := &Output{BuildDir: req.BuildDir}
	env := depEnv(req.Deps, req.Platform)
	steps := []struct {
		kind error
		cmds []Command
	}{
		{ErrConfigureFailed, tool.Configure(req)},
		{ErrBuildFailed, tool.Invoke(req)},
	}
	logger := log.FromContext(ctx)
	for _, step := range steps {
		for _, cmd := range step.cmds {
			cmd.Env = append(cmd.Env, env...)
			line := cmd.Line()
			logger.Debug("running", "tool", tool.Name(), "cmd", line)
			out.Commands = append(out.Commands, line)

			var err error
			if req.Explicit() {
				err = RunRaw(ctx, inv.runner, line, cmd.Dir, cmd.Env)
			} else {
				err = inv.runner.Run(ctx, cmd)
			}
			if err != nil {
				if errors.Is(context.Cause(ctx), ErrBuildTimedOut) {
					return nil, fmt.Errorf("%w after %v: %s", ErrBuildTimedOut, inv.timeout, line)
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("%w: %s: %w", step.kind, line, err)
			}
		}
	}
	return out, nil
}
