// ABOUTME: Executor that runs an external CLI per task, such as `goose run -i <file>`.
// ABOUTME: The task reaches the process through an argument placeholder, a temp file or stdin.

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Argument placeholders understood by Command.
const (
	PlaceholderTask     = "{task}"
	PlaceholderTaskFile = "{task_file}"
)

// ErrEmptyTask is returned when a command executor receives a blank task.
var ErrEmptyTask = errors.New("task cannot be empty")

const (
	maxOutput = 64 * 1024 // bytes kept from each of stdout and stderr
	waitDelay = 2 * time.Second
)

// Command runs Path with Args for every task. When an argument contains
// {task} the task text is substituted; when it contains {task_file} the task
// is written to a temporary file whose path is substituted. Otherwise the
// task is written to the process's stdin.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration // zero means no limit beyond ctx
	Logger  *slog.Logger
}

// Execute runs the command and returns its stdout. A non-zero exit is an
// error carrying the tail of stderr.
func (c *Command) Execute(ctx context.Context, task string) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", ErrEmptyTask
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args, stdin, cleanup, err := c.buildArgs(task)
	if err != nil {
		return "", err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if stdin {
		cmd.Stdin = strings.NewReader(task)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, max: maxOutput}
	cmd.Stderr = &limitedWriter{buf: &stderr, max: maxOutput}

	start := time.Now()
	err = cmd.Run()
	logger.Debug("command finished",
		"path", c.Path,
		"duration", time.Since(start),
		"error", err,
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("running %s: %w", c.Path, ctxErr)
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return "", fmt.Errorf("running %s: %w", c.Path, err)
		}
		return "", fmt.Errorf("running %s: %w: %s", c.Path, err, detail)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// buildArgs expands placeholders. stdin reports whether the task must be
// piped in because no argument referenced it.
func (c *Command) buildArgs(task string) (args []string, stdin bool, cleanup func(), err error) {
	cleanup = func() {}
	var taskFile string

	args = make([]string, len(c.Args))
	referenced := false
	for i, a := range c.Args {
		if strings.Contains(a, PlaceholderTaskFile) {
			if taskFile == "" {
				f, err := os.CreateTemp("", "coven-task-*.txt")
				if err != nil {
					return nil, false, cleanup, fmt.Errorf("creating task file: %w", err)
				}
				name := f.Name()
				cleanup = func() { _ = os.Remove(name) }
				if _, err := f.WriteString(task); err != nil {
					_ = f.Close()
					return nil, false, cleanup, fmt.Errorf("writing task file: %w", err)
				}
				if err := f.Close(); err != nil {
					return nil, false, cleanup, fmt.Errorf("closing task file: %w", err)
				}
				taskFile = name
			}
			a = strings.ReplaceAll(a, PlaceholderTaskFile, taskFile)
			referenced = true
		}
		if strings.Contains(a, PlaceholderTask) {
			a = strings.ReplaceAll(a, PlaceholderTask, task)
			referenced = true
		}
		args[i] = a
	}
	return args, !referenced, cleanup, nil
}

// limitedWriter keeps at most max bytes and silently drops the rest.
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
