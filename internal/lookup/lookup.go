// Package lookup resolves dotted variable paths against decoded JSON data.
package lookup

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

var indexPattern = regexp.MustCompile(`^([^\[\]]*)((?:\[\d+\])+)$`)

// Compile converts a path such as "@input.items[0].name" or
// "@input?.user?.name" into a JSONPath expression rooted at the data.
// Numeric segments ("items.0") index arrays.
func Compile(path string) (jp.Expr, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	x := jp.R()
	for _, seg := range strings.Split(path, ".") {
		seg = strings.TrimSuffix(seg, "?")
		if seg == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}

		if m := indexPattern.FindStringSubmatch(seg); m != nil && m[2] != "" {
			if m[1] != "" {
				x = x.C(m[1])
			}
			for _, idx := range strings.Split(strings.Trim(m[2], "[]"), "][") {
				n, err := strconv.Atoi(idx)
				if err != nil {
					return nil, fmt.Errorf("bad index %q in path %q", idx, path)
				}
				x = x.N(n)
			}
			continue
		}

		if n, err := strconv.Atoi(seg); err == nil && n >= 0 {
			x = x.N(n)
			continue
		}
		x = x.C(seg)
	}
	return x, nil
}

// Path returns the value at path in data, or nil when any segment is
// missing or the path cannot be parsed. It never fails.
func Path(data any, path string) any {
	x, err := Compile(path)
	if err != nil {
		return nil
	}
	return x.First(data)
}

// Has reports whether path resolves to a present value (which may be nil).
func Has(data any, path string) bool {
	x, err := Compile(path)
	if err != nil {
		return false
	}
	return len(x.Get(data)) > 0
}
