package substrate

import "errors"

var (
	// ErrNotFound marks a missing file or directory. Both filesystem
	// implementations wrap it so callers can errors.Is across them.
	ErrNotFound = errors.New("not found")

	// ErrInvalidContent marks content that failed validation. No write
	// occurs when validation fails.
	ErrInvalidContent = errors.New("invalid content")

	// ErrContractViolation marks wrong-mode writer use. It indicates a
	// programming bug, not an environmental failure.
	ErrContractViolation = errors.New("contract violation")

	// ErrUnknownFile marks a file identifier absent from the registry.
	ErrUnknownFile = errors.New("unknown substrate file")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
