// Package authority issues certificates from a step certificate authority by
// driving the step CLI.
package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNotBootstrapped is returned when the client is used before Bootstrap succeeded.
var ErrNotBootstrapped = errors.New("step client has not been bootstrapped")

// Authority is the certificate authority capability used by the reconciler.
type Authority interface {
	// Bootstrap trusts the CA root. It must succeed before any other call.
	Bootstrap(ctx context.Context) error
	Health(ctx context.Context) error
	IssueCertificate(ctx context.Context, commonName string, sans []string) (*IssuedCertificate, error)
}

// IssuedCertificate is PEM material produced by one issuance. It is consumed by
// a single upload and never written to disk by this process.
type IssuedCertificate struct {
	Certificate   []byte
	Intermediates []byte
	PrivateKey    []byte
	NotAfter      time.Time
}

// LogValue keeps key material out of logs.
func (c *IssuedCertificate) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.Time("not_after", c.NotAfter),
		slog.Bool("has_intermediates", len(c.Intermediates) > 0),
	)
}

// String keeps key material out of fmt output.
func (c *IssuedCertificate) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("IssuedCertificate{NotAfter: %s}", c.NotAfter.Format(time.RFC3339))
}

// ProcessError reports a step CLI invocation that exited unsuccessfully.
type ProcessError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

const maxStderr = 512

func newProcessError(command string, exitCode int, stderr []byte) *ProcessError {
	msg := strings.TrimSpace(string(stderr))
	if len(msg) > maxStderr {
		msg = msg[:maxStderr] + "..."
	}
	return &ProcessError{Command: command, ExitCode: exitCode, Stderr: msg}
}
