package ldapauth

import (
	"bufio"
	"strings"
)

// CountEntries counts the entries in directory output by their dn lines,
// ignoring case and leading whitespace.
func CountEntries(raw string) int {
	count := 0
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), " \t")
		if len(line) >= 3 && strings.EqualFold(line[:3], "dn:") {
			count++
		}
	}
	return count
}

// Verify reports whether a directory result grants access. Without a
// search, the bind is sufficient. With one, exactly one entry is required.
func Verify(result *DirectoryResult, searchConfigured bool) bool {
	return verifyResult(result, searchConfigured) == nil
}

func verifyResult(result *DirectoryResult, searchConfigured bool) error {
	if result == nil || !result.Bound {
		return &BindError{Cause: errNotBound}
	}
	if !searchConfigured {
		return nil
	}
	if n := CountEntries(result.Output); n != 1 {
		return &AuthorizationError{Entries: n}
	}
	return nil
}
