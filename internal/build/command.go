package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
	"mvdan.cc/sh/v3/syntax"
)

// Command describes one external process.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // KEY=value entries layered over the process environment
}

// Line renders c as a shell command line.
func (c Command) Line() string {
	words := append([]string{c.Path}, c.Args...)
	for i, w := range words {
		words[i] = quote(w)
	}
	return strings.Join(words, " ")
}

func (c Command) String() string {
	return c.Line()
}

func quote(word string) string {
	if word != "" && !strings.ContainsAny(word, " \t\n'\"\\$`!*?[]{}()<>|&;#~") {
		return word
	}
	q, err := syntax.Quote(word, syntax.LangPOSIX)
	if err != nil {
		return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
	}
	return q
}

// Runner runs external processes.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec. Output goes to Stdout and Stderr
// when set; the tail of stderr is kept for error messages.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

const stderrTail = 2048

func (r ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), c.Env)
	}
	var stderr bytes.Buffer
	cmd.Stdout = r.Stdout
	cmd.Stderr = &stderr
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, r.Stderr)
	}
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = "..." + msg[len(msg)-stderrTail:]
		}
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// RunRaw parses a shell command line and runs it in dir. Only word
// splitting and quoting are interpreted; there is no shell.
func RunRaw(ctx context.Context, r Runner, line, dir string, env []string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("empty command line")
	}
	return r.Run(ctx, Command{Path: args[0], Args: args[1:], Dir: dir, Env: env})
}

// mergeEnv returns base with every entry of overrides replaced or
// appended.
func mergeEnv(base, overrides []string) []string {
	merged := make([]string, len(base), len(base)+len(overrides))
	copy(merged, base)
	idx := make(map[string]int, len(merged))
	for i, kv := range merged {
		if k, _, ok := strings.Cut(kv, "="); ok {
			idx[k] = i
		}
	}
	for _, kv := range overrides {
		k, _, _ := strings.Cut(kv, "=")
		if i, ok := idx[k]; ok {
			merged[i] = kv
		} else {
			idx[k] = len(merged)
			merged = append(merged, kv)
		}
	}
	return merged
}
