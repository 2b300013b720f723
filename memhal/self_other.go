//go:build !linux && !windows

package memhal

// Self is only available where page protection can be queried.
func Self() (ProtectedRegion, error) {
	return nil, ErrorMissingFunction
}
