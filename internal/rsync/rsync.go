// Package rsync builds and runs single-file rsync invocations.
package rsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const (
	DefaultBinary = "rsync"
	DefaultShell  = "ssh"
	DefaultFlags  = "av"
)

type Command struct {
	Binary      string
	Shell       string
	Flags       string
	Source      string
	Destination string
	Delete      bool
	// Only narrows the transfer to one entry of the source directory. With
	// Delete it removes just that name on the remote and nothing else.
	Only string
}

func New() *Command {
	return &Command{
		Binary: DefaultBinary,
		Shell:  DefaultShell,
		Flags:  DefaultFlags,
	}
}

func (c *Command) WithBinary(bin string) *Command {
	if bin != "" {
		c.Binary = bin
	}
	return c
}

func (c *Command) WithShell(shell string) *Command {
	c.Shell = shell
	return c
}

func (c *Command) WithFlags(flags string) *Command {
	c.Flags = strings.TrimPrefix(flags, "-")
	return c
}

func (c *Command) WithSource(src string) *Command {
	c.Source = src
	return c
}

func (c *Command) WithDestination(dst string) *Command {
	c.Destination = dst
	return c
}

func (c *Command) WithDelete(del bool) *Command {
	c.Delete = del
	return c
}

// WithOnly limits a directory transfer to name, without recursing.
func (c *Command) WithOnly(name string) *Command {
	c.Only = name
	return c
}

func (c *Command) Validate() error {
	switch {
	case c.Source == "":
		return errors.New("rsync: no source")
	case c.Destination == "":
		return errors.New("rsync: no destination")
	}
	return nil
}

// Args returns the argument vector without the binary.
func (c *Command) Args() []string {
	var args []string
	if c.Flags != "" {
		args = append(args, "-"+c.Flags)
	}
	if c.Shell != "" {
		args = append(args, "--rsh="+c.Shell)
	}
	if c.Only != "" {
		args = append(args, "--no-recursive", "--dirs")
	}
	if c.Delete {
		args = append(args, "--delete")
	}
	if c.Only != "" {
		args = append(args, "--include=/"+escapePattern(c.Only), "--exclude=*")
	}
	return append(args, c.Source, c.Destination)
}

// escapePattern makes name match literally inside an rsync filter rule.
// rsync only honours backslashes in patterns that contain a wildcard.
func escapePattern(name string) string {
	if !strings.ContainsAny(name, "*?[") {
		return name
	}

	var b strings.Builder
	for _, r := range name {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// String is the command line as a shell would see it.
func (c *Command) String() string {
	parts := []string{quote(c.Binary)}
	for _, a := range c.Args() {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

type Result struct {
	ExitCode int
	Output   []byte
	Err      error
}

type Runner interface {
	Run(ctx context.Context, c *Command) Result
}

// ExecRunner runs the rsync binary as a subprocess. Output is captured and
// also copied to Stdout when set.
type ExecRunner struct {
	Stdout io.Writer
}

func (r ExecRunner) Run(ctx context.Context, c *Command) Result {
	if err := c.Validate(); err != nil {
		return Result{ExitCode: -1, Err: err}
	}

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, c.Args()...)
	if r.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&buf, r.Stdout)
	} else {
		cmd.Stdout = &buf
	}
	cmd.Stderr = &buf

	err := cmd.Run()
	if err == nil {
		return Result{Output: buf.Bytes()}
	}

	code := -1
	if exitErr, ok := errors.AsType[*exec.ExitError](err); ok {
		code = exitErr.ExitCode()
	}

	msg := strings.TrimSpace(buf.String())
	if msg != "" {
		err = fmt.Errorf("rsync exited with %d: %w\n%s", code, err, msg)
	} else {
		err = fmt.Errorf("rsync exited with %d: %w", code, err)
	}

	return Result{ExitCode: code, Output: buf.Bytes(), Err: err}
}

// Callback receives the outcome of Execute exactly once.
type Callback func(err error, code int, cmdline string)

// Execute runs c on r in a new goroutine and reports through cb.
func (c *Command) Execute(ctx context.Context, r Runner, cb Callback) {
	cmdline := c.String()
	go func() {
		res := r.Run(ctx, c)
		cb(res.Err, res.ExitCode, cmdline)
	}()
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
