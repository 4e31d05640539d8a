package bridgestore

import "errors"

var (
	ErrNotFound          = errors.New("transfer not found")
	ErrStaleStatus       = errors.New("transfer status changed since read")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidTransfer   = errors.New("transfer fails a store invariant")
	ErrEmptyPatch        = errors.New("patch contains no changes")
)
