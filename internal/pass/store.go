package pass

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Store issues password store subcommands through a Runner. Invocations
// are serialized: at most one tool process runs at a time, so at most one
// pinentry prompt is shown.
type Store struct {
	runner   Runner
	log      *zap.Logger
	mu       sync.Mutex
	inFlight atomic.Int32
}

// NewStore returns a Store running subcommands through runner.
func NewStore(runner Runner, log *zap.Logger) *Store {
	return &Store{runner: runner, log: log}
}

// Check verifies that the tool can be started, when the runner is able to
// tell.
func (s *Store) Check() error {
	if lp, ok := s.runner.(interface{ LookPath() error }); ok {
		return lp.LookPath()
	}
	return nil
}

// Busy reports whether an invocation is running or waiting to run.
func (s *Store) Busy() bool {
	return s.inFlight.Load() > 0
}

func (s *Store) run(ctx context.Context, stdin string, args ...string) (Result, error) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner.Run(ctx, stdin, args...)
}

// Show returns the blob stored at path. ok is false when the tool fails,
// exits non-zero, or prints nothing.
func (s *Store) Show(ctx context.Context, path string) (blob string, ok bool) {
	res, err := s.run(ctx, "", "show", path)
	if err != nil {
		s.log.Warn("pass show failed", zap.String("path", path), zap.Error(err))
		return "", false
	}
	if !res.OK() || res.Stdout == "" {
		return "", false
	}
	return res.Stdout, true
}

// List returns the tree listing of path. ok is false when the tool fails
// or exits non-zero.
func (s *Store) List(ctx context.Context, path string) (listing string, ok bool) {
	res, err := s.run(ctx, "", "ls", path)
	if err != nil {
		s.log.Warn("pass ls failed", zap.String("path", path), zap.Error(err))
		return "", false
	}
	if !res.OK() {
		return "", false
	}
	return res.Stdout, true
}

// Insert writes blob to path, replacing any existing entry.
func (s *Store) Insert(ctx context.Context, path, blob string) error {
	return s.mutate(ctx, blob, "insert", "-m", "-f", path)
}

// Remove deletes the entry at path.
func (s *Store) Remove(ctx context.Context, path string) error {
	return s.mutate(ctx, "", "rm", "-f", path)
}

// RemoveTree deletes path and everything below it.
func (s *Store) RemoveTree(ctx context.Context, path string) error {
	return s.mutate(ctx, "", "rm", "-r", "-f", path)
}

func (s *Store) mutate(ctx context.Context, stdin string, args ...string) error {
	res, err := s.run(ctx, stdin, args...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &ExitError{Args: args, Code: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// ExitError reports a subcommand that exited non-zero.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("pass %v exited with status %d: %s", e.Args, e.Code, e.Stderr)
}
