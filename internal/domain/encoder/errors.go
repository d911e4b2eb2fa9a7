package encoder

import "errors"

// Sentinel kinds for encoding errors.
var (
	ErrEncoding = errors.New("feature encoding failed")
)
