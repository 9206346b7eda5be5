package predict

import (
	"errors"
	"fmt"
)

// Kind identifies why a prediction call failed.
type Kind int

const (
	KindLaunchFailed Kind = iota + 1
	KindExitedNonZero
	KindEmptyOutput
	KindMalformedOutput
	KindModelError
	KindTimedOut
	KindCancelled
	KindOutputTooLarge
)

const (
	unknownErrorText = "unknown error"
	modelErrorText   = "prediction failed"
	rawPreviewLimit  = 512
)

var kindNames = map[Kind]string{
	KindLaunchFailed:    "launch_failed",
	KindExitedNonZero:   "exited_non_zero",
	KindEmptyOutput:     "empty_output",
	KindMalformedOutput: "malformed_output",
	KindModelError:      "model_error",
	KindTimedOut:        "timed_out",
	KindCancelled:       "cancelled",
	KindOutputTooLarge:  "output_too_large",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Failure is the error returned by the bridge for every unsuccessful call.
// Only the fields relevant to Kind are set.
type Failure struct {
	Kind     Kind
	ExitCode int
	Stderr   string
	Raw      string
	Message  string
	Err      error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindLaunchFailed:
		return fmt.Sprintf("failed to start scoring process: %v", f.Err)
	case KindExitedNonZero:
		return fmt.Sprintf("scoring process exited with code %d: %s", f.ExitCode, preview(f.Stderr))
	case KindEmptyOutput:
		return "no output from scoring process"
	case KindMalformedOutput:
		return fmt.Sprintf("failed to parse prediction result: %v (output: %s)", f.Err, preview(f.Raw))
	case KindModelError:
		return fmt.Sprintf("model reported error: %s", f.Message)
	case KindTimedOut:
		return "scoring process timed out"
	case KindCancelled:
		return "prediction cancelled"
	case KindOutputTooLarge:
		return f.Message
	default:
		return fmt.Sprintf("prediction failed (%s)", f.Kind)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsKind reports whether err is a bridge Failure of the given kind.
func IsKind(err error, k Kind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == k
}

// KindOf returns the failure kind of err, or 0 if err is not a Failure.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

func launchFailed(err error) *Failure {
	return &Failure{Kind: KindLaunchFailed, Err: err}
}

func exitedNonZero(code int, stderr string) *Failure {
	if stderr == "" {
		stderr = unknownErrorText
	}
	return &Failure{Kind: KindExitedNonZero, ExitCode: code, Stderr: stderr}
}

func malformed(raw string, err error) *Failure {
	return &Failure{Kind: KindMalformedOutput, Raw: raw, Err: err}
}

func modelError(msg string) *Failure {
	if msg == "" {
		msg = modelErrorText
	}
	return &Failure{Kind: KindModelError, Message: msg}
}

func preview(s string) string {
	if len(s) <= rawPreviewLimit {
		return s
	}
	return s[:rawPreviewLimit] + "..."
}
