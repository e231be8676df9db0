package email

// EmailError represents an email-specific error with a code and message.
// These constants mirror domain error codes to avoid circular imports;
// the handler layer maps them to HTTP status codes.
type EmailError struct {
	Code    string
	Message string
}

func (e *EmailError) Error() string {
	return e.Message
}

// ErrorCode returns the error code for HTTP status mapping.
func (e *EmailError) ErrorCode() string {
	return e.Code
}

var (
	// ErrInvalidFromAddress is returned when the from address is invalid.
	ErrInvalidFromAddress = &EmailError{Code: "invalid", Message: "Invalid from email address"}

	// ErrInvalidToAddress is returned when the to address is invalid.
	ErrInvalidToAddress = &EmailError{Code: "invalid", Message: "Invalid to email address"}
)
