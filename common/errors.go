package common

import "errors"

// The error string constants follow the Minix errlist naming, matching the
// style used by the file server this core serves.

var (
	EBUSY    = errors.New("Resource busy")
	EINVAL   = errors.New("Invalid argument")
	ENOMEM   = errors.New("Not enough memory")
	ENOSPC   = errors.New("No space left on device")
	ERR_SEEK = errors.New("could not seek to given position")
)
