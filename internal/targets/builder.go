package targets

import (
	"bufio"
	"os"
	"strings"
)

// Builder normalizes target expressions and target files into one ordered,
// deduplicated list. Any unreadable or malformed file fails the whole build:
// a partial target set is never returned.
type Builder struct {
	Filter ServiceFilter
}

// Build resolves exprs in order. Each expression is either a path to an
// existing regular file or a literal address/range expression.
func (b *Builder) Build(exprs []string) ([]Target, error) {
	out := newSet()
	for _, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}

		var (
			found []Target
			err   error
		)
		if isRegularFile(expr) {
			found, err = b.parseFile(expr)
		} else {
			found, err = ParseExpression(expr)
		}
		if err != nil {
			return nil, err
		}
		for _, t := range found {
			out.Add(t)
		}
	}
	return out.items, nil
}

func (b *Builder) parseFile(path string) ([]Target, error) {
	kind, err := DetectFileKind(path)
	if err != nil {
		return nil, &FileError{Path: path, Kind: kind, Err: err}
	}

	var found []Target
	switch kind {
	case KindNmap:
		found, err = ParseNmapXML(path, b.Filter)
	case KindNessus:
		found, err = ParseNessus(path, b.Filter)
	default:
		found, err = parseListFile(path)
	}
	if err != nil {
		return nil, &FileError{Path: path, Kind: kind, Err: err}
	}
	return found, nil
}

func parseListFile(path string) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Target
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		found, err := ParseExpression(line)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, scanner.Err()
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
