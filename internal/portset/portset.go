// Package portset parses port specifications such as "22,80-90,443"
// into a validated, sorted, duplicate-free set and renders the set back
// in its canonical compacted form.
package portset

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// MinPort and MaxPort bound every valid port.
	MinPort = 1
	MaxPort = 65535
)

var (
	// ErrSyntax is wrapped by every malformed-specification error.
	ErrSyntax = errors.New("invalid port specification")
	// ErrRange is wrapped when a port falls outside 1-65535.
	ErrRange = errors.New("port out of range")
)

// ValidationError reports why a port specification was rejected.
type ValidationError struct {
	Input  string // the offending spec or term
	Detail string
	Err    error // ErrSyntax or ErrRange
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %q", e.Err, e.Input)
	}
	return fmt.Sprintf("%v: %q: %s", e.Err, e.Input, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PortSet is an immutable, ascending set of ports.  A nil *PortSet is
// the empty set.
type PortSet struct {
	ports []int
}

// New builds a PortSet from an arbitrary slice of ports, which may be
// unsorted and contain duplicates.
func New(ports []int) (*PortSet, error) {
	seen := make(map[int]struct{}, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p < MinPort || p > MaxPort {
			return nil, &ValidationError{Input: strconv.Itoa(p), Err: ErrRange}
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return &PortSet{ports: out}, nil
}

// MustParse is like Parse but panics on error.  Intended for tests and
// package-level literals.
func MustParse(spec string) *PortSet {
	ps, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return ps
}

// Parse accepts comma-separated single ports and inclusive a-b ranges.
// Whitespace around commas is ignored.  Overlapping terms are merged
// into one bitmap, so memory stays bounded however often a range repeats.
func Parse(spec string) (*PortSet, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, &ValidationError{Input: spec, Detail: "empty", Err: ErrSyntax}
	}

	var seen [MaxPort + 1]bool
	n := 0
	for _, raw := range strings.Split(spec, ",") {
		term := strings.TrimSpace(raw)
		if term == "" {
			return nil, &ValidationError{Input: spec, Detail: "empty term", Err: ErrSyntax}
		}
		if i := strings.IndexFunc(term, func(r rune) bool {
			return (r < '0' || r > '9') && r != '-'
		}); i >= 0 {
			return nil, &ValidationError{Input: term, Detail: fmt.Sprintf("unexpected character %q", term[i]), Err: ErrSyntax}
		}

		first, last, err := parseTerm(term)
		if err != nil {
			return nil, err
		}
		for p := first; p <= last; p++ {
			if !seen[p] {
				seen[p] = true
				n++
			}
		}
	}

	ports := make([]int, 0, n)
	for p := MinPort; p <= MaxPort; p++ {
		if seen[p] {
			ports = append(ports, p)
		}
	}
	return &PortSet{ports: ports}, nil
}

// parseTerm resolves "n" or "a-b" into an inclusive, range-checked pair.
func parseTerm(term string) (int, int, error) {
	lo, hi, isRange := strings.Cut(term, "-")
	first, err := parseBound(term, lo)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return first, first, nil
	}
	last, err := parseBound(term, hi)
	if err != nil {
		return 0, 0, err
	}
	if first > last {
		return 0, 0, &ValidationError{Input: term, Detail: "range start exceeds end", Err: ErrSyntax}
	}
	return first, last, nil
}

func parseBound(term, s string) (int, error) {
	if s == "" || strings.Contains(s, "-") {
		return 0, &ValidationError{Input: term, Detail: "malformed range", Err: ErrSyntax}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// Only digits reach here, so the failure is overflow.
		return 0, &ValidationError{Input: term, Err: ErrRange}
	}
	if n < MinPort || n > MaxPort {
		return 0, &ValidationError{Input: term, Err: ErrRange}
	}
	return n, nil
}

// Size returns the number of ports in the set.
func (s *PortSet) Size() int {
	if s == nil {
		return 0
	}
	return len(s.ports)
}

// Ports returns the ports in ascending order.  The slice is a copy.
func (s *PortSet) Ports() []int {
	if s == nil {
		return nil
	}
	out := make([]int, len(s.ports))
	copy(out, s.ports)
	return out
}

// Contains reports whether port is a member of the set.
func (s *PortSet) Contains(port int) bool {
	if s == nil {
		return false
	}
	i := sort.SearchInts(s.ports, port)
	return i < len(s.ports) && s.ports[i] == port
}

// String renders the canonical form: runs of consecutive ports collapse
// to "first-last" (a two-port run included), everything comma-joined.
func (s *PortSet) String() string {
	if s.Size() == 0 {
		return ""
	}

	var b strings.Builder
	start, prev := s.ports[0], s.ports[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(start))
		if prev != start {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(prev))
		}
	}

	for _, p := range s.ports[1:] {
		if p == prev+1 {
			prev = p
			continue
		}
		flush()
		start, prev = p, p
	}
	flush()
	return b.String()
}
