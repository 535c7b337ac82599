package build

import (
	"context"
	"strings"
	"sync"
)

// recordRunner records commands instead of running them. fail maps a
// substring of a command line to the error returned for it.
type recordRunner struct {
	mu    sync.Mutex
	cmds  []Command
	fail  map[string]error
	block string // command lines containing block wait for ctx
}

func (r *recordRunner) Run(ctx context.Context, cmd Command) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	line := cmd.Line()
	if r.block != "" && strings.Contains(line, r.block) {
		<-ctx.Done()
		return ctx.Err()
	}
	for s, err := range r.fail {
		if strings.Contains(line, s) {
			return err
		}
	}
	return nil
}

func (r *recordRunner) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.cmds {
		out = append(out, c.Line())
	}
	return out
}
