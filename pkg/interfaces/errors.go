package interfaces

import "errors"

// ErrConnectionNotFound is returned by a Transport addressing an unknown connection
var ErrConnectionNotFound = errors.New("connection not found")
