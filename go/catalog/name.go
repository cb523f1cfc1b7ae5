package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// Name is a forward-slash-delimited catalog identifier, e.g.
// "acmeCo/orders/enriched". Name-prefix containment defines
// authorization scope (spec.md §3.1, §4.6).
type Name string

// tokenPattern matches a single path token: Flow catalog names allow
// letters, digits, and a conservative set of punctuation, mirroring the
// validation the teacher's connectors perform on resource paths
// (no pack example does catalog-name validation specifically, since
// it lived in the generated pf package deleted here; this regex is a
// direct re-statement of spec.md §4.3 phase 1 "names match a prefix
// regex").
var tokenPattern = regexp.MustCompile(`^[[:alnum:]\-_.]+$`)

// Validate reports whether name is a well-formed catalog name: one or
// more non-empty, slash-delimited tokens, no leading/trailing/doubled
// slashes.
func (n Name) Validate() error {
	if n == "" {
		return errNameInvalid(n, "name is empty")
	}
	if strings.HasPrefix(string(n), "/") || strings.HasSuffix(string(n), "/") {
		return errNameInvalid(n, "name must not begin or end with '/'")
	}
	for _, tok := range strings.Split(string(n), "/") {
		if tok == "" {
			return errNameInvalid(n, "name must not contain an empty path component")
		}
		if !tokenPattern.MatchString(tok) {
			return errNameInvalid(n, fmt.Sprintf("path component %q contains disallowed characters", tok))
		}
	}
	return nil
}

// HasPrefix reports whether n is equal to, or nested under, prefix.
// A prefix "acmeCo/orders" contains "acmeCo/orders/enriched" but not
// "acmeCo/ordersArchive".
func (n Name) HasPrefix(prefix Name) bool {
	var s, p = string(n), string(prefix)
	if p == "" {
		return true
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return s == string(prefix) || strings.HasPrefix(s, p)
}

// Tenant returns the leading path component, which scopes billing,
// storage mapping defaults, and the top-level authorization role.
func (n Name) Tenant() string {
	if i := strings.IndexByte(string(n), '/'); i >= 0 {
		return string(n)[:i]
	}
	return string(n)
}

func errNameInvalid(n Name, why string) error {
	return &ValidationError{Scope: "flow://catalog-name/" + string(n), Detail: why}
}
