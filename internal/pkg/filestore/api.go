package filestore

import (
	"errors"
)

// ErrNotFound indicates missing file in the store
var ErrNotFound = errors.New("file not found")
