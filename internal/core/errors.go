package core

import "github.com/synodriver/pygetex/internal/errs"

// Re-exported here so callers of this package only need one import for the
// operations' documented error kinds.
var (
	ErrNotActive      = errs.ErrNotActive
	ErrAlreadyActive  = errs.ErrAlreadyActive
	ErrNotFound       = errs.ErrNotFound
	ErrIncompleteBlock = errs.ErrIncompleteBlock
)
