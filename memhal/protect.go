package memhal

import (
	"errors"
	"fmt"
)

// ProtectionScope holds write permission on a range until Release is called.
type ProtectionScope struct {
	region ProtectedRegion
	addr   int
	length int
	saved  []ProtectionSpan
	done   bool
}

func elevate(p Protection) Protection {
	return p | ProtRW
}

// AcquireWritable records the current protection of [addr, addr+length) and
// makes it readable and writable. Execute permission is kept. On failure every
// span that was already changed is restored.
func AcquireWritable(region ProtectedRegion, addr int, length int) (*ProtectionScope, error) {
	if length <= 0 || addr < 0 {
		return nil, ErrorInvalidRange
	}

	spans, err := region.QueryProtection(addr, length)
	if err != nil {
		return nil, fmt.Errorf("%w: query %x+%d: %v", ErrorProtectionChange, addr, length, err)
	}

	s := &ProtectionScope{
		region: region,
		addr:   addr,
		length: length,
	}

	for _, m := range spans {
		if m.Prot == elevate(m.Prot) {
			continue
		}

		if err := region.SetProtection(m.Addr, m.Length, elevate(m.Prot)); err != nil {
			restoreErr := s.restore()
			return nil, errors.Join(
				fmt.Errorf("%w: %x+%d to %s: %v", ErrorProtectionChange, m.Addr, m.Length, elevate(m.Prot), err),
				restoreErr)
		}
		s.saved = append(s.saved, m)
	}

	return s, nil
}

func (s *ProtectionScope) restore() error {
	var errs []error
	for i := len(s.saved) - 1; i >= 0; i-- {
		m := s.saved[i]
		if err := s.region.SetProtection(m.Addr, m.Length, m.Prot); err != nil {
			errs = append(errs, fmt.Errorf("%w: restore %x+%d to %s: %v", ErrorProtectionChange, m.Addr, m.Length, m.Prot, err))
		}
	}
	s.saved = nil
	return errors.Join(errs...)
}

// Release restores the recorded protection. Calling it again is a no-op.
func (s *ProtectionScope) Release() error {
	if s == nil || s.done {
		return nil
	}
	s.done = true
	return s.restore()
}

// Saved returns the spans whose protection was raised by this scope.
func (s *ProtectionScope) Saved() []ProtectionSpan {
	return append([]ProtectionSpan(nil), s.saved...)
}

// WithWritable runs fn while [addr, addr+length) is writable. Protection is
// restored when fn returns, fails or panics.
func WithWritable(region ProtectedRegion, addr int, length int, fn func() error) (err error) {
	scope, err := AcquireWritable(region, addr, length)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := scope.Release(); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()

	return fn()
}
