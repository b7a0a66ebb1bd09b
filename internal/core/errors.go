package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies lifecycle and service failures.
type ErrorKind string

// Error kinds reported to callers. The string values are part of the HTTP
// error body.
const (
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindPartialFailure   ErrorKind = "partial_failure"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindValidation       ErrorKind = "validation"
	KindForbidden        ErrorKind = "forbidden"
	KindUnauthorized     ErrorKind = "unauthorized"
)

// LifecycleError is the typed failure returned by the engine and service.
// Step and StepIndex are set when the failure happened inside a multi-step
// operation; Compensation lists undo attempts that failed.
type LifecycleError struct {
	Kind         ErrorKind
	Op           string
	Step         string
	StepIndex    int
	Keys         map[string]string
	Message      string
	Cause        error
	Compensation []error
}

// Sentinels for errors.Is checks by kind.
var (
	ErrNotFound         = &LifecycleError{Kind: KindNotFound}
	ErrConflict         = &LifecycleError{Kind: KindConflict}
	ErrPartialFailure   = &LifecycleError{Kind: KindPartialFailure}
	ErrStoreUnavailable = &LifecycleError{Kind: KindStoreUnavailable}
	ErrValidation       = &LifecycleError{Kind: KindValidation}
	ErrForbidden        = &LifecycleError{Kind: KindForbidden}
	ErrUnauthorized     = &LifecycleError{Kind: KindUnauthorized}
)

func newError(kind ErrorKind, format string, args ...any) *LifecycleError {
	return &LifecycleError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *LifecycleError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " (step %d %s)", e.StepIndex, e.Step)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if len(e.Compensation) > 0 {
		fmt.Fprintf(&b, "; %d compensation(s) failed", len(e.Compensation))
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *LifecycleError) Unwrap() error { return e.Cause }

// Is matches any LifecycleError of the same kind.
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// LogArgs flattens the error context into structured logging key/value pairs.
func (e *LifecycleError) LogArgs() []any {
	args := []any{"kind", string(e.Kind)}
	if e.Op != "" {
		args = append(args, "op", e.Op)
	}
	if e.Step != "" {
		args = append(args, "step", e.Step, "step_index", e.StepIndex)
	}
	keys := make([]string, 0, len(e.Keys))
	for k := range e.Keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, e.Keys[k])
	}
	if e.Cause != nil {
		args = append(args, "cause", e.Cause.Error())
	}
	for i, err := range e.Compensation {
		args = append(args, fmt.Sprintf("compensation_%d", i), err.Error())
	}
	return args
}

// KindOf returns the kind of the outermost LifecycleError in err's chain, or
// the empty kind when err carries none.
func KindOf(err error) ErrorKind {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var le *LifecycleError
	if errors.As(err, &le) && le.Message != "" {
		return le.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// withContext returns a copy of err annotated with operation context. Errors
// that are not LifecycleErrors are returned unchanged.
func withContext(err error, op string, step string, index int, keys map[string]string) error {
	var le *LifecycleError
	if !errors.As(err, &le) {
		return err
	}
	cp := *le
	if cp.Op == "" {
		cp.Op = op
	}
	if cp.Step == "" && step != "" {
		cp.Step = step
		cp.StepIndex = index
	}
	if cp.Keys == nil && len(keys) > 0 {
		cp.Keys = keys
	}
	return &cp
}
