package memhal

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// parseProcMaps reads mappings in the format of /proc/<pid>/maps.
func parseProcMaps(r io.Reader) ([]ProtectionSpan, error) {
	var spans []ProtectionSpan

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("malformed mapping %q", fields[0])
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			return nil, err
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			return nil, err
		}

		prot, err := ParseProtection(strings.TrimRight(fields[1], "ps"))
		if err != nil {
			return nil, fmt.Errorf("malformed permissions %q", fields[1])
		}

		spans = append(spans, ProtectionSpan{
			Addr:   int(start),
			Length: int(end - start),
			Prot:   prot,
		})
	}

	return spans, scanner.Err()
}

// clipSpans returns the parts of mappings covering the pages of
// [start, end). Holes are reported as ErrorAddressInvalid.
func clipSpans(mappings []ProtectionSpan, start int, end int) ([]ProtectionSpan, error) {
	var spans []ProtectionSpan

	cur := start
	for _, m := range mappings {
		if cur >= end {
			break
		}
		if m.Addr+m.Length <= cur {
			continue
		}
		if m.Addr > cur {
			return nil, fmt.Errorf("%w: %x", ErrorAddressInvalid, cur)
		}

		spanEnd := m.Addr + m.Length
		if spanEnd > end {
			spanEnd = end
		}
		spans = append(spans, ProtectionSpan{Addr: cur, Length: spanEnd - cur, Prot: m.Prot})
		cur = spanEnd
	}

	if cur < end {
		return nil, fmt.Errorf("%w: %x", ErrorAddressInvalid, cur)
	}
	return spans, nil
}
