package transcription

import "errors"

// ErrStreamClosed indicates the remote endpoint terminated the recognition
// stream. It is always wrapped in a TransientError: the pipeline may open a
// replacement session.
var ErrStreamClosed = errors.New("recognition stream closed by remote")

// AuthError marks a credential rejection. Non-retryable: reconnecting with
// the same credentials cannot succeed.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e == nil || e.Err == nil {
		return "authentication failed"
	}
	return "authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// TransientError marks an unexpected connection failure that the pipeline
// may recover from by opening a replacement session.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient network error"
	}
	return "transient network error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
