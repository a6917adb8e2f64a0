// Package runtime runs build stages on a local process, Docker or Kubernetes.
package runtime

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// Runtime starts stage workloads.
type Runtime interface {
	// Start begins execution of a stage and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a stage.
type StartOptions struct {
	// Name identifies the stage run; it names the work directory, container or Job.
	Name    string
	Image   string
	Command []string
	Env     map[string]string

	// WorkDir is mounted (docker) or used as the working directory (exec).
	WorkDir string

	// Timeout is enforced by the backend where it supports deadlines.
	Timeout time.Duration

	Labels map[string]string
}

// ExitResult is the outcome of a finished stage.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running stage.
type Handle interface {
	// Wait blocks until the stage completes or ctx is done.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the stage.
	Stop(ctx context.Context) error

	// StreamLogs follows the stage's combined stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}

// ManagedBy is the label value set on every container and Job we create.
const ManagedBy = "buildstate"

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// resourceName turns a stage name into a DNS-1123 label.
func resourceName(name string) string {
	if name == "" {
		name = fmt.Sprintf("stage-%d", time.Now().UnixNano())
	}
	n := invalidNameChars.ReplaceAllString(strings.ToLower(name), "-")
	n = strings.Trim(n, "-")
	if len(n) > 63 {
		n = strings.TrimRight(n[:63], "-")
	}
	if n == "" {
		n = fmt.Sprintf("stage-%d", time.Now().UnixNano())
	}
	return n
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
