package core

import "errors"

// ErrNotFound is returned by a KVStore when a requested key does not exist.
var ErrNotFound = errors.New("not found")
