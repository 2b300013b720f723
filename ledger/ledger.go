// Package ledger records which bytes of a target address space have been
// claimed by a patch. Claims are tracked per byte and are never released.
package ledger

import (
	"sort"
	"sync"
)

type Claim struct {
	Owner  string
	Start  int
	Length int
}

func (c Claim) End() int {
	return c.Start + c.Length
}

type Range struct {
	Start  int
	Length int
}

// Ledger is safe for concurrent use. The zero value is not usable, use New.
type Ledger struct {
	mu      sync.Mutex
	claimed map[int]int // byte offset -> index into claims
	claims  []Claim
}

func New() *Ledger {
	return &Ledger{
		claimed: make(map[int]int),
	}
}

func (l *Ledger) isClaimed(start int, length int) bool {
	for i := start; i < start+length; i++ {
		if _, ok := l.claimed[i]; ok {
			return true
		}
	}
	return false
}

// IsClaimed reports whether any byte of [start, start+length) is claimed.
func (l *Ledger) IsClaimed(start int, length int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.isClaimed(start, length)
}

// TryClaim claims [start, start+length) if none of it is claimed yet. On
// conflict the ledger is left untouched.
func (l *Ledger) TryClaim(start int, length int) bool {
	return l.TryClaimFor("", start, length)
}

func (l *Ledger) TryClaimFor(owner string, start int, length int) bool {
	return l.TryClaimAll(owner, []Range{{Start: start, Length: length}})
}

// TryClaimAll claims every range or none of them. Ranges overlapping each
// other fail the whole call.
func (l *Ledger) TryClaimAll(owner string, ranges []Range) bool {
	if len(ranges) == 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[int]struct{})
	for _, r := range ranges {
		if r.Length <= 0 || r.Start < 0 || r.Start+r.Length < r.Start {
			return false
		}
		if l.isClaimed(r.Start, r.Length) {
			return false
		}
		for i := r.Start; i < r.Start+r.Length; i++ {
			if _, ok := seen[i]; ok {
				return false
			}
			seen[i] = struct{}{}
		}
	}

	for _, r := range ranges {
		idx := len(l.claims)
		l.claims = append(l.claims, Claim{Owner: owner, Start: r.Start, Length: r.Length})
		for i := r.Start; i < r.Start+r.Length; i++ {
			l.claimed[i] = idx
		}
	}
	return true
}

// Holder returns the claim covering addr.
func (l *Ledger) Holder(addr int) (Claim, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.claimed[addr]
	if !ok {
		return Claim{}, false
	}
	return l.claims[idx], true
}

// FirstConflict returns the first claim overlapping [start, start+length).
func (l *Ledger) FirstConflict(start int, length int) (Claim, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := start; i < start+length; i++ {
		if idx, ok := l.claimed[i]; ok {
			return l.claims[idx], true
		}
	}
	return Claim{}, false
}

// Claims returns all claims ordered by start address.
func (l *Ledger) Claims() []Claim {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := append([]Claim(nil), l.claims...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Start < list[j].Start
	})
	return list
}

// Len is the number of claimed bytes.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.claimed)
}
