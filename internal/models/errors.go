package models

import "errors"

// Error taxonomy shared by the pipeline and its collaborators. The HTTP
// layer maps these to status codes; everything else wraps them with an
// operation prefix and lets them propagate.
var (
	// ErrInvalidImage marks malformed, truncated or zero-byte input.
	ErrInvalidImage = errors.New("invalid image")

	// ErrUnsupportedFormat marks decodable input (or a requested target)
	// outside the supported format set.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrPayloadTooLarge marks an upload exceeding the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrNotFound marks a missing metadata record.
	ErrNotFound = errors.New("image not found")

	// ErrMissingBlob marks a record whose backing bytes are absent from
	// blob storage. A data-integrity anomaly, never fabricated around.
	ErrMissingBlob = errors.New("image blob missing from storage")

	// ErrDuplicateFingerprint marks a lost insert race on the fingerprint
	// uniqueness constraint. Recovered inside upload, never surfaced.
	ErrDuplicateFingerprint = errors.New("duplicate content fingerprint")

	// ErrForbidden marks an ownership mismatch on delete.
	ErrForbidden = errors.New("operation not permitted")
)
