// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostic

import (
	"regexp"
	"strings"
)

// contextSuffix matches the " (in context of ...)" suffix PHPStan appends to
// trait paths analysed in the context of a using class.
var contextSuffix = regexp.MustCompile(` \(in context of .+\)$`)

// PathMapping rewrites a reported path prefix.
type PathMapping struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// ParsePathMappings parses comma separated "src:dest" pairs.
//
// Each side is trimmed and an empty side becomes ".". Entries without a colon
// are ignored. The pair is split at the first colon, so a source cannot carry
// a Windows drive letter.
func ParsePathMappings(s string) []PathMapping {
	var out []PathMapping
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		src, dest, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		out = append(out, PathMapping{Source: orDot(src), Dest: orDot(dest)})
	}
	return out
}

func orDot(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "."
	}
	return s
}

// MapPath applies the first mapping whose source prefixes path. The prefix
// must end at a path separator, so /app does not match /application.
func MapPath(path string, mappings []PathMapping) string {
	for _, m := range mappings {
		if hasPathPrefix(path, m.Source) {
			return m.Dest + path[len(m.Source):]
		}
	}
	return path
}

func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || isSeparator(prefix[len(prefix)-1]) {
		return true
	}
	return isSeparator(path[len(prefix)])
}

func isSeparator(c byte) bool {
	return c == '/' || c == '\\'
}

// StripContext removes a trailing " (in context of ...)" suffix.
func StripContext(path string) string {
	if loc := contextSuffix.FindStringIndex(path); loc != nil {
		return path[:loc[0]]
	}
	return path
}

// SanitizeFsPath uppercases a leading Windows drive letter so the same file
// reported as c:\ and C:\ lands on one collection key.
func SanitizeFsPath(path string) string {
	if len(path) >= 2 && path[1] == ':' && path[0] >= 'a' && path[0] <= 'z' {
		return strings.ToUpper(path[:1]) + path[1:]
	}
	return path
}
