// Package targets turns raw operator input into the ordered, deduplicated list
// of endpoints a run is dispatched against.
package targets

import (
	"fmt"
	"strconv"
	"strings"

	sharedErrors "github.com/RomanRII/NetExec/internal/shared/errors"
)

// Target is one addressable endpoint. Addr is the normalized identity.
type Target struct {
	Addr     string
	Port     int
	Hostname string
	Service  string
}

// Key returns the identity used for deduplication.
func (t Target) Key() string {
	return strings.ToLower(t.Addr)
}

func (t Target) String() string {
	if t.Port > 0 {
		return t.Addr + ":" + strconv.Itoa(t.Port)
	}
	return t.Addr
}

// ServiceFilter selects which services of a scan report belong to the
// protocol being run. An empty filter accepts every host.
type ServiceFilter struct {
	Ports    []int
	Services []string
}

func (f ServiceFilter) empty() bool {
	return len(f.Ports) == 0 && len(f.Services) == 0
}

func (f ServiceFilter) match(port int, service string) bool {
	for _, p := range f.Ports {
		if p == port {
			return true
		}
	}
	for _, s := range f.Services {
		if strings.EqualFold(s, service) {
			return true
		}
	}
	return false
}

// FileError reports a target file that could not be read or parsed.
type FileError struct {
	Path string
	Kind FileKind
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("target file %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Is makes every FileError match ErrTargetFile.
func (e *FileError) Is(target error) bool {
	return target == sharedErrors.ErrTargetFile
}

// set keeps insertion order and drops repeated identities.
type set struct {
	seen  map[string]struct{}
	items []Target
}

func newSet() *set {
	return &set{seen: make(map[string]struct{})}
}

func (s *set) Add(t Target) bool {
	key := t.Key()
	if key == "" {
		return false
	}
	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, t)
	return true
}
