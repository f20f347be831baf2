package monitor

import (
	"errors"
	"fmt"

	"github.com/fleetwatch/fleetwatch/pkg/runtime"
)

// ErrorKind classifies a reconciliation failure by its handling, not its
// source. The kind decides whether a pass retries, records an error status,
// or aborts startup.
type ErrorKind int

const (
	// KindTransient errors resolve on the next cycle: network blips,
	// timeouts, a briefly unreachable daemon. Logged and retried.
	KindTransient ErrorKind = iota

	// KindNotFound means the workload no longer exists in the runtime. For
	// bots this is a legitimate transition to stopped.
	KindNotFound

	// KindSemantic errors are bad data that retrying cannot fix: malformed
	// credentials, an invalid download config. Recorded on the workload.
	KindSemantic

	// KindResourceExhaustion covers OOM kills and disk-full failures
	KindResourceExhaustion

	// KindFatalStartup errors abort the process: an unreachable database or
	// coordination store at boot
	KindFatalStartup
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindSemantic:
		return "semantic"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindFatalStartup:
		return "fatal_startup"
	default:
		return "transient"
	}
}

// Error carries the failure classification through the reconcilers
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and the operation that produced it
func E(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification of an error. Unclassified errors are
// transient: retrying is the safe default for a reconciler.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, runtime.ErrNotFound) {
		return KindNotFound
	}
	return KindTransient
}
