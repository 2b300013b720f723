package patch

import "errors"

var (
	ErrorConflict     = errors.New("Patch conflicts with an existing patch")
	ErrorOverlap      = errors.New("Source buffer overlaps the patched range")
	ErrorInvalidRange = errors.New("Invalid patch range")
	ErrorInvalidEntry = errors.New("Invalid plan entry")
	ErrorUnknownKind  = errors.New("Unknown plan entry kind")
	ErrorSymbol       = errors.New("Symbol not found")
)
