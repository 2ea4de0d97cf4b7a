package badgerdb

import "errors"

var (
	errInvalidConfig  = errors.New("invalid config")
	errInvalidBaseDir = errors.New("invalid base directory")
	errInvalidLogger  = errors.New("invalid logger")
)
