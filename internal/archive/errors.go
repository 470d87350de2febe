package archive

import "fmt"

// FormatError indicates an archive could not be read: truncated data,
// a missing or malformed manifest, or an unsupported layout version.
type FormatError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *FormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid archive %s: %s: %v", e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid archive %s: %s", e.Path, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Cause
}

// EncryptionError indicates key handling or cipher operations failed.
type EncryptionError struct {
	Message string
	Cause   error
}

func (e *EncryptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("archive encryption: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("archive encryption: %s", e.Message)
}

func (e *EncryptionError) Unwrap() error {
	return e.Cause
}
