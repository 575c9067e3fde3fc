package auth

// Error is an authentication error. AskCredentials is set when the request
// carried no Authorization header at all, so the caller can decide whether
// to answer with a WWW-Authenticate challenge or a plain 401.
type Error struct {
	Wrapped        error
	AskCredentials bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "authentication failed: " + e.Wrapped.Error()
}

// Unwrap allows errors.Is/errors.As to see through Error.
func (e *Error) Unwrap() error {
	return e.Wrapped
}
