package authgate

import (
	"errors"
	"strings"
)

// routeSet answers whether a path is publicly reachable. Patterns are
// either exact paths ("/hello") or prefix wildcards ("/static/*"). An
// exact match always beats a wildcard; among wildcards the longest prefix
// decides, so "/static/img/*" can carve a hole out of "/static/*" when
// route sets are combined by the caller.
type routeSet struct {
	exact    map[string]struct{}
	prefixes []string
}

func newRouteSet(patterns []string) (*routeSet, error) {
	rs := &routeSet{exact: make(map[string]struct{}, len(patterns))}

	for _, pattern := range patterns {
		if !strings.HasPrefix(pattern, "/") {
			return nil, errors.New("route pattern must start with /")
		}
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "*")
			rs.prefixes = append(rs.prefixes, prefix)
			continue
		}
		if strings.Contains(pattern, "*") {
			return nil, errors.New("wildcard is only allowed as a trailing /*")
		}
		rs.exact[pattern] = struct{}{}
	}

	// Longest prefix first so the most specific wildcard wins.
	for i := 1; i < len(rs.prefixes); i++ {
		for j := i; j > 0 && len(rs.prefixes[j]) > len(rs.prefixes[j-1]); j-- {
			rs.prefixes[j], rs.prefixes[j-1] = rs.prefixes[j-1], rs.prefixes[j]
		}
	}

	return rs, nil
}

func (rs *routeSet) matches(path string) bool {
	if _, ok := rs.exact[path]; ok {
		return true
	}
	for _, prefix := range rs.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
