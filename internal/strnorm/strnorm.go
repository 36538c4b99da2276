// Package strnorm normalizes the free-text identifiers (member ids,
// sheet names, version strings) and workspace paths that flow through
// JVCS, grounded on the original implementation's string_proc crate:
// snake_case normalization for identifiers, and a path sanitizer/
// normalizer for sheet-path safety (§3, §4.6 output_mappings).
package strnorm

import (
	"path"
	"regexp"
	"strings"
)

var (
	nonAlnum    = regexp.MustCompile(`[^a-z0-9]+`)
	unfriendly  = regexp.MustCompile(`[*?"<>|]`)
	repeatSlash = regexp.MustCompile(`/+`)
)

// SnakeCase normalizes an identifier (member id, sheet name, version
// string) to lowercase snake_case: non-alphanumeric runs become a
// single underscore, and leading/trailing underscores are trimmed.
func SnakeCase(s string) string {
	lower := strings.ToLower(s)
	replaced := nonAlnum.ReplaceAllString(lower, "_")
	return strings.Trim(replaced, "_")
}

// SanitizeFilePath replaces characters that are unsafe in file paths
// (path separators and Windows-reserved characters) with underscores.
// Used for deriving filesystem-safe names from arbitrary user input,
// e.g. output_mappings' out_name (§4.6).
func SanitizeFilePath(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			b.WriteRune('_')
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// FormatPath normalizes a workspace-relative path: backslashes become
// forward slashes, repeated slashes collapse, unfriendly characters
// are stripped, and ".." components are resolved lexically (no
// filesystem access), mirroring the original implementation's
// format_path_str.
func FormatPath(p string) string {
	trailingSlash := strings.HasSuffix(p, "/")
	withForwardSlashes := strings.ReplaceAll(p, "\\", "/")
	collapsed := repeatSlash.ReplaceAllString(withForwardSlashes, "/")
	cleaned := unfriendly.ReplaceAllString(collapsed, "")
	normalized := path.Clean(cleaned)
	if normalized == "." {
		normalized = ""
	}
	if trailingSlash && !strings.HasSuffix(normalized, "/") && normalized != "" {
		normalized += "/"
	}
	return normalized
}

// Components splits a formatted path into its "/"-separated parts,
// skipping empty segments — the unit output_mappings' longest-common-
// prefix computation walks over (§4.6).
func Components(p string) []string {
	parts := strings.Split(FormatPath(p), "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
