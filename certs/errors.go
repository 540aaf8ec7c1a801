package certs

import "fmt"

// CertificateError names the certificate and the rule that failed during
// chain validation.
type CertificateError struct {
	Subject string
	Rule    string
	Err     error
}

func (e *CertificateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certificate %q: %s: %v", e.Subject, e.Rule, e.Err)
	}
	return fmt.Sprintf("certificate %q: %s", e.Subject, e.Rule)
}

func (e *CertificateError) Unwrap() error {
	return e.Err
}

// UsageError indicates the caller passed an unusable argument, such as an
// empty chain or an empty trusted root set.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}
