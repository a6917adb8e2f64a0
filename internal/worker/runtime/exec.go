package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// LogFileName is the combined output file inside each stage directory.
const LogFileName = "stage.log"

// ExecRuntime runs stages as local processes. The Image field is ignored.
type ExecRuntime struct {
	WorkDir string
}

// NewExecRuntime creates a process-based runtime rooted at workDir.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "buildstate", "runner")
	}
	return &ExecRuntime{WorkDir: workDir}
}

// ExecHandle is a running local process.
type ExecHandle struct {
	cmd     *exec.Cmd
	logPath string
	done    chan struct{}

	mu     sync.Mutex
	result ExitResult
}

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	name := opts.Name
	if name == "" {
		name = uuid.NewString()
	}
	stageDir := filepath.Join(e.WorkDir, resourceName(name))
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	logPath := filepath.Join(stageDir, LogFileName)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = stageDir
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	cmd.Env = append(os.Environ(), mapToEnvList(opts.Env)...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command[0], err)
	}

	h := &ExecHandle{cmd: cmd, logPath: logPath, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		logFile.Close()

		res := ExitResult{ExitCode: cmd.ProcessState.ExitCode()}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			res.Error = err
		}
		if res.ExitCode < 0 {
			res.Error = fmt.Errorf("terminated: %s", cmd.ProcessState.String())
		}

		h.mu.Lock()
		h.result = res
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

// Wait implements Handle.Wait. The process is killed when ctx ends first.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, nil
	case <-ctx.Done():
		h.cmd.Process.Kill()
		<-h.done
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop sends SIGTERM and kills the process if it outlives ctx.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal process: %w", err)
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		h.cmd.Process.Kill()
		<-h.done
		return nil
	}
}

// StreamLogs follows the stage log file until the process exits.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(h.logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &followReader{ctx: ctx, f: f, done: h.done}, nil
}

// LogPath returns the combined output file.
func (h *ExecHandle) LogPath() string {
	return h.logPath
}

const followPollInterval = 50 * time.Millisecond

// followReader reads a growing file, returning io.EOF only once the
// writer has finished and everything has been read.
type followReader struct {
	ctx  context.Context
	f    *os.File
	done <-chan struct{}
}

func (r *followReader) Read(p []byte) (int, error) {
	for {
		n, err := r.f.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		select {
		case <-r.done:
			// Drain what was written between the last read and exit.
			n, err := r.f.Read(p)
			if n > 0 {
				return n, nil
			}
			if err == nil {
				err = io.EOF
			}
			return 0, err
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		case <-time.After(followPollInterval):
		}
	}
}

func (r *followReader) Close() error {
	return r.f.Close()
}
