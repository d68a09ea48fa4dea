package targets

import (
	"fmt"
	"strconv"
	"strings"

	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
)

// ExpandCredentialIDs resolves credential id expressions such as "9" and
// "5-7" into database ids. Plain ids keep their relative order and come first;
// range expansions follow in the order the ranges were given. So
// ["5-7", "9"] yields [9 5 6 7]. Repeated ids are kept once.
func ExpandCredentialIDs(exprs []string) ([]int, error) {
	var plain, expanded []int
	for _, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}

		start, end, isRange := strings.Cut(expr, "-")
		if !isRange {
			id, err := strconv.Atoi(expr)
			if err != nil {
				return nil, fmt.Errorf("%w %q: not an integer", sharedErrors.ErrMalformedCredentialID, expr)
			}
			plain = append(plain, id)
			continue
		}

		lo, err := strconv.Atoi(strings.TrimSpace(start))
		if err != nil {
			return nil, fmt.Errorf("%w %q: invalid range start", sharedErrors.ErrMalformedCredentialID, expr)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(end))
		if err != nil {
			return nil, fmt.Errorf("%w %q: invalid range end", sharedErrors.ErrMalformedCredentialID, expr)
		}
		if lo > hi {
			return nil, fmt.Errorf("%w %q: start is greater than end", sharedErrors.ErrMalformedCredentialID, expr)
		}
		for n := lo; n <= hi; n++ {
			expanded = append(expanded, n)
		}
	}

	seen := make(map[int]struct{}, len(plain)+len(expanded))
	out := make([]int, 0, len(plain)+len(expanded))
	for _, id := range append(plain, expanded...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
