package fusion

import "errors"

// Sentinel kinds for fusion errors.
var (
	ErrNoVerdicts = errors.New("no verdicts to fuse")
)
