package domain

import "errors"

// Domain errors.
var (
	// ErrJobNotFound is returned when an export job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrUserNotFound is returned when a user record cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrAccessDenied is returned when a caller addresses a job owned
	// by a different user.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnsupportedPlatform is returned for platforms without an
	// export implementation.
	ErrUnsupportedPlatform = errors.New("platform not supported")

	// ErrJobNotCancellable is returned when cancelling a job that is
	// not currently processing.
	ErrJobNotCancellable = errors.New("job cannot be cancelled")

	// ErrArtifactNotFound is returned when an export artifact file is
	// missing on disk.
	ErrArtifactNotFound = errors.New("export artifact not found")

	// ErrNoMediaURL is returned when a media item carries no source URL.
	ErrNoMediaURL = errors.New("media item has no source URL")

	// ErrNotConnected is returned when the user has no stored access
	// token for the requested platform.
	ErrNotConnected = errors.New("platform not connected")

	// ErrInvalidSessionToken is returned for malformed or expired
	// session tokens.
	ErrInvalidSessionToken = errors.New("invalid session token")
)

// PlatformError wraps an upstream API failure with platform context.
// The provider's reported error text is embedded in the message so it
// surfaces verbatim in the job's error field.
type PlatformError struct {
	Platform Platform
	Op       string
	Err      error
}

func (e *PlatformError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewPlatformError creates a new PlatformError.
func NewPlatformError(platform Platform, op string, err error) *PlatformError {
	return &PlatformError{Platform: platform, Op: op, Err: err}
}
