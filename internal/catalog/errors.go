package catalog

import "errors"

// ErrNotFound is returned when a requested name or version does not exist,
// or exists but is hidden.
var ErrNotFound = errors.New("catalog: not found")
