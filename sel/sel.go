// Package sel selects the namespaces whose writes are replicated.
//
// A pattern is "db.coll", "db.*" or "db". The last two select every collection of db.
package sel

import (
	"slices"
	"strings"

	"github.com/percona/percona-shadowwrite-mongodb/errors"
)

// NSFilter returns true if a namespace is allowed.
type NSFilter func(db, coll string) bool

func AllowAllFilter(string, string) bool {
	return true
}

// MakeFilter builds a filter from include and exclude patterns.
// Exclusion wins. With a non-empty include list, anything not included is denied.
func MakeFilter(include, exclude []string) NSFilter {
	if len(include) == 0 && len(exclude) == 0 {
		return AllowAllFilter
	}

	includes := makeFilterMap(include)
	excludes := makeFilterMap(exclude)

	return func(db, coll string) bool {
		if len(excludes) != 0 && excludes.has(db, coll) {
			return false
		}

		if len(includes) != 0 {
			return includes.has(db, coll)
		}

		return true
	}
}

// ValidateNamespaces checks the syntax of filter patterns.
func ValidateNamespaces(patterns []string) error {
	for _, p := range patterns {
		db, coll, hasColl := strings.Cut(strings.TrimSpace(p), ".")

		switch {
		case db == "":
			return errors.Errorf("%q: empty database name", p)
		case strings.ContainsAny(db, "/\\ \"$*"):
			return errors.Errorf("%q: invalid database name", p)
		case hasColl && coll == "":
			return errors.Errorf("%q: empty collection name", p)
		case hasColl && coll != "*" && strings.Contains(coll, "*"):
			return errors.Errorf("%q: wildcard must be the whole collection name", p)
		}
	}

	return nil
}

// filterMap maps database names to collection names. A nil list selects the whole database.
type filterMap map[string][]string

func (f filterMap) has(db, coll string) bool {
	list, ok := f[db]
	if !ok {
		return false
	}

	if list == nil {
		return true
	}

	return slices.Contains(list, coll)
}

func makeFilterMap(patterns []string) filterMap {
	rv := make(filterMap)

	for _, p := range patterns {
		db, coll, hasColl := strings.Cut(strings.TrimSpace(p), ".")

		list, seen := rv[db]
		if seen && list == nil {
			continue // whole database already selected
		}

		if !hasColl || coll == "*" {
			rv[db] = nil

			continue
		}

		if !slices.Contains(list, coll) {
			rv[db] = append(list, coll)
		}
	}

	return rv
}
