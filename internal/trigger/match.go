// Package trigger decides whether an incoming repository event starts a
// pipeline run. Matching is pure predicate evaluation over the immutable
// pattern sets of a pipeline's trigger rules; there are no side effects.
package trigger

import (
	"path"
	"strings"

	"github.com/zenibako/pipevent/pkg/types"
)

// Matches reports whether the event matches any of the definition's trigger
// rules. A definition with no rules never matches.
func Matches(def *types.Definition, ev types.Event) bool {
	for _, rule := range def.Triggers {
		if RuleMatches(rule, ev) {
			return true
		}
	}
	return false
}

// RuleMatches evaluates a single trigger rule against an event:
//
//   - the event kind must be in the rule's event set
//   - if the rule carries branch or tag patterns, the normalized ref must
//     match at least one pattern of the set that applies to the ref type
//     (tags for tag refs, branches otherwise)
//   - if the rule carries paths-ignore patterns and the changed-path set is
//     non-empty and every changed path matches an ignore pattern, the rule
//     is suppressed; an empty changed-path set never suppresses
func RuleMatches(rule types.TriggerRule, ev types.Event) bool {
	if !kindIn(rule.Events, ev.Kind) {
		return false
	}

	if rule.HasRefFilter() {
		patterns := rule.Branches
		if ev.IsTag() {
			patterns = rule.Tags
		}
		if !MatchAnyPattern(patterns, ev.NormalizedRef()) {
			return false
		}
	}

	if len(rule.PathsIgnore) > 0 && len(ev.ChangedPaths) > 0 {
		if allIgnored(ev.ChangedPaths, rule.PathsIgnore) {
			return false
		}
	}

	return true
}

func kindIn(kinds []types.EventKind, kind types.EventKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// allIgnored reports whether every changed path matches some ignore pattern.
func allIgnored(paths, ignore []string) bool {
	for _, p := range paths {
		if !MatchAnyPattern(ignore, p) {
			return false
		}
	}
	return true
}

// MatchAnyPattern reports whether s matches any of the glob patterns.
// Returns false for an empty pattern set.
func MatchAnyPattern(patterns []string, s string) bool {
	for _, pattern := range patterns {
		if MatchPattern(pattern, s) {
			return true
		}
	}
	return false
}

// MatchPattern matches a ref or path against a glob pattern:
//
//   - Exact match: "main" matches only "main"
//   - Single-segment wildcard: "docs/*" matches "docs/api.md" but not
//     "docs/guide/a.md"; "*" and "?" never cross a "/" boundary
//   - Recursive wildcard: "docs/**" matches any path under docs/
//   - Universal: "**" matches anything
//   - Interior recursive: "feature/**/hotfix" matches "feature/hotfix" and
//     "feature/x/y/hotfix"
//
// Malformed patterns (unmatched brackets) match nothing rather than
// propagating an error: a pattern that cannot be parsed should never fire
// a pipeline.
func MatchPattern(pattern, s string) bool {
	if pattern == "**" {
		return true
	}

	// No ** in the pattern: path.Match handles single-segment * and ?
	// (neither matches "/").
	if !strings.Contains(pattern, "**") {
		return matchGlob(pattern, s)
	}

	// Suffix form: "feature/**" matches the prefix itself plus anything
	// below it.
	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		if matchGlob(prefix, s) {
			return true
		}
		return hasMatchingPrefix(prefix, s)
	}

	// Prefix form: "**/lock.json" matches the suffix at any depth.
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchGlob(suffix, s) {
			return true
		}
		return hasMatchingSuffix(suffix, s)
	}

	// Interior form: split on the first /**/ and match both sides.
	sep := strings.Index(pattern, "/**/")
	if sep >= 0 {
		prefix := pattern[:sep]
		suffix := pattern[sep+4:]

		// ** consuming zero segments: prefix and suffix are adjacent.
		if matchGlob(prefix+"/"+suffix, s) {
			return true
		}

		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(s, "/")
		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}
		if !matchGlob(prefix, strings.Join(segments[:prefixDepth], "/")) {
			return false
		}
		if !matchGlob(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
			return false
		}
		for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
			if segment == "" {
				return false
			}
		}
		return true
	}

	// Multiple ** groups or other exotic forms are unsupported.
	return false
}

// ValidPattern reports whether a glob pattern is well formed. Used at load
// time so malformed patterns surface as configuration errors instead of
// silently matching nothing.
func ValidPattern(pattern string) bool {
	probe := strings.ReplaceAll(pattern, "**", "*")
	_, err := path.Match(probe, "probe")
	return err == nil
}

func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}

// hasMatchingPrefix reports whether s starts with segments matching the
// pattern, with at least one further segment after them.
func hasMatchingPrefix(pattern, s string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(s, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[:depth], "/"))
}

// hasMatchingSuffix reports whether s ends with segments matching the
// pattern, with at least one segment before them.
func hasMatchingSuffix(pattern, s string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(s, "/")
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[len(segments)-depth:], "/"))
}
