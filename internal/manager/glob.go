package manager

import "strings"

// MatchPattern exports the glob matcher for callers outside this package
// (the connection handler's subscription matching uses the same rules).
func MatchPattern(pattern, candidate string) bool { return matchGlob(pattern, candidate) }

// matchGlob implements the minimal pattern language used for document-id
// matching: "*" matches everything, "prefix*" matches a prefix, "*suffix"
// matches a suffix, anything else must match exactly.
func matchGlob(pattern, candidate string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(candidate, pattern[1:])
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(candidate, pattern[:len(pattern)-1])
	}
	return pattern == candidate
}
