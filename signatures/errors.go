package signatures

import "fmt"

// SignatureValidationError reports a cryptographic check failure for one
// signature field.
type SignatureValidationError struct {
	Field string
	Msg   string
}

func (e *SignatureValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("signature %q: %s", e.Field, e.Msg)
}

// UsageError reports invalid input supplied by the caller.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}
