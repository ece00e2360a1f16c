package tracking

import "golang.org/x/xerrors"

// ValidationError reports input rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// WriteError reports a rolled back store write. The message shown to
// clients is Public; Err carries the cause for logs.
type WriteError struct {
	What string
	Err  error
}

func (e *WriteError) Error() string {
	return "failed to record " + e.What + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }

// Public is the message safe to return to clients.
func (e *WriteError) Public() string {
	return "failed to record " + e.What
}

func IsValidation(err error) bool {
	var v *ValidationError
	return xerrors.As(err, &v)
}
