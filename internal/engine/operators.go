package engine

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
)

// matcher compares a context value against a condition value.
type matcher func(actual, expected any) bool

var (
	matchers = map[string]matcher{
		"equals":      matchEquals,
		"not_equals":  func(a, e any) bool { return !matchEquals(a, e) },
		"contains":    stringMatcher(strings.Contains),
		"starts_with": stringMatcher(strings.HasPrefix),
		"ends_with":   stringMatcher(strings.HasSuffix),
		"regex":       matchRegex,
		"gt":          numberMatcher(func(a, b float64) bool { return a > b }),
		"lt":          numberMatcher(func(a, b float64) bool { return a < b }),
		"gte":         numberMatcher(func(a, b float64) bool { return a >= b }),
		"lte":         numberMatcher(func(a, b float64) bool { return a <= b }),
		"in_list":     matchInList,
		"not_in_list": func(a, e any) bool { return !matchInList(a, e) },
		"version_gt":  versionMatcher(func(a, b *semver.Version) bool { return a.GreaterThan(b) }),
		"version_lt":  versionMatcher(func(a, b *semver.Version) bool { return a.LessThan(b) }),
	}

	aliases = map[string]string{
		"==": "equals", "eq": "equals",
		"!=": "not_equals", "neq": "not_equals",
		"startswith": "starts_with", "endswith": "ends_with",
		"matches": "regex",
		">": "gt", "<": "lt", ">=": "gte", "<=": "lte",
		"in": "in_list", "not_in": "not_in_list", "nin": "not_in_list",
		"semver_gt": "version_gt", "semver_lt": "version_lt",
	}

	// compiled patterns by source, *regexp.Regexp values
	regexCache sync.Map
)

// KnownOperator reports whether op names a supported condition operator.
func KnownOperator(op flagmodel.Operator) bool {
	_, ok := lookupMatcher(op)
	return ok
}

func lookupMatcher(op flagmodel.Operator) (matcher, bool) {
	name := strings.ToLower(strings.TrimSpace(string(op)))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	m, ok := matchers[name]
	return m, ok
}

func matchEquals(actual, expected any) bool {
	if a, ok := actual.(string); ok {
		e, ok := expected.(string)
		return ok && a == e
	}
	if a, ok := asFloat(actual); ok {
		e, ok := asFloat(expected)
		return ok && a == e
	}
	if a, ok := actual.(bool); ok {
		e, ok := expected.(bool)
		return ok && a == e
	}
	return false
}

func stringMatcher(fn func(s, sub string) bool) matcher {
	return func(actual, expected any) bool {
		a, ok := actual.(string)
		if !ok {
			return false
		}
		e, ok := expected.(string)
		return ok && fn(a, e)
	}
}

func numberMatcher(cmp func(a, b float64) bool) matcher {
	return func(actual, expected any) bool {
		a, ok := asFloat(actual)
		if !ok {
			return false
		}
		e, ok := asFloat(expected)
		return ok && cmp(a, e)
	}
}

func versionMatcher(cmp func(a, b *semver.Version) bool) matcher {
	return func(actual, expected any) bool {
		a, ok := actual.(string)
		if !ok {
			return false
		}
		e, ok := expected.(string)
		if !ok {
			return false
		}
		av, err := semver.NewVersion(a)
		if err != nil {
			return false
		}
		ev, err := semver.NewVersion(e)
		if err != nil {
			return false
		}
		return cmp(av, ev)
	}
}

func matchRegex(actual, expected any) bool {
	a, ok := actual.(string)
	if !ok {
		return false
	}
	pattern, ok := expected.(string)
	if !ok {
		return false
	}
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(a)
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	regexCache.Store(pattern, rx)
	return rx.MatchString(a)
}

func matchInList(actual, expected any) bool {
	a, ok := actual.(string)
	if !ok {
		return false
	}
	switch list := expected.(type) {
	case []string:
		for _, item := range list {
			if item == a {
				return true
			}
		}
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok && s == a {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
