// Package pass runs the external password store tool.
package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// EnvironmentVars lists the variables handed to the tool. Entries without
// "=" are copied from the process environment when present; entries with
// "=" are passed as is.
var EnvironmentVars = []string{
	"HOME", "USER", "DISPLAY", "PATH",
	"GPG_AGENT_INFO",
	"PASSWORD_STORE_DIR",
	"PASSWORD_STORE_KEY",
	"PASSWORD_STORE_GIT",
	"PASSWORD_STORE_UMASK",
	"TREE_COLORS=rs:0",
	"TREE_CHARSET=ASCII",
}

// Result is the outcome of one invocation that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the tool exited with status 0.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Runner executes the tool. A non-zero exit status is reported in Result,
// not as an error; errors mean the tool could not be run at all.
type Runner interface {
	Run(ctx context.Context, stdin string, args ...string) (Result, error)
}

// Command runs a binary with a fixed environment captured at construction.
type Command struct {
	bin string
	env []string
	log *zap.Logger
}

// NewCommand returns a Command for bin. The allow-listed environment is
// read once here and reused for every invocation.
func NewCommand(bin string, log *zap.Logger) *Command {
	return &Command{bin: bin, env: CaptureEnvironment(os.LookupEnv), log: log}
}

// CaptureEnvironment builds the tool environment from EnvironmentVars.
func CaptureEnvironment(lookup func(string) (string, bool)) []string {
	env := make([]string, 0, len(EnvironmentVars))
	for _, v := range EnvironmentVars {
		if strings.Contains(v, "=") {
			env = append(env, v)
			continue
		}
		if val, ok := lookup(v); ok {
			env = append(env, v+"="+val)
		}
	}
	return env
}

// Bin returns the configured binary.
func (c *Command) Bin() string { return c.bin }

// Environment returns a copy of the captured environment.
func (c *Command) Environment() []string { return append([]string(nil), c.env...) }

// LookPath checks that the binary can be found.
func (c *Command) LookPath() error {
	if _, err := exec.LookPath(c.bin); err != nil {
		return fmt.Errorf("'%s' executable not found: %w", c.bin, err)
	}
	return nil
}

// Run executes the binary with args, writing stdin to the process when
// non-empty. Stdout and stderr are captured separately.
func (c *Command) Run(ctx context.Context, stdin string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Env = c.env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("run %s %s: %w", c.bin, strings.Join(args, " "), err)
	}

	c.log.Debug("pass invocation finished",
		zap.String("subcommand", firstArg(args)),
		zap.Int("exit_code", res.ExitCode),
	)
	return res, nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
