package memhal

import "errors"

var (
	ErrorAddressInvalid   = errors.New("Address is not mapped")
	ErrorInvalidRange     = errors.New("Invalid address range")
	ErrorReadNotAllowed   = errors.New("Memory can't be read")
	ErrorWriteNotAllowed  = errors.New("Memory can't be written")
	ErrorProtectionChange = errors.New("Could not change memory protection")
	ErrorMissingFunction  = errors.New("This function is not supported on this platform")
	ErrorSegmentOverlap   = errors.New("Segment overlaps an existing mapping")
)
