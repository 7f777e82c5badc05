// Package normalize cleans up model output into a self-contained,
// renderable HTML document. Pure transforms only: same input, same
// output, and the input is never executed or interpreted.
package normalize

import "strings"

// Normalize strips surrounding markdown code fences and, when the result
// is not already a complete HTML document, wraps it in a minimal document
// shell. Callers keep the raw input alongside the result; nothing is
// discarded here.
func Normalize(raw string) string {
	s := StripFences(raw)
	if IsDocument(s) {
		return s
	}
	return wrapDocument(s)
}

// StripFences removes a surrounding markdown code fence (``` or
// ```html) if present. Models like to wrap their output in one.
func StripFences(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return s
	}

	first := 0
	last := len(lines)

	// Skip trailing blank lines when looking for the closing fence.
	for last > first && strings.TrimSpace(lines[last-1]) == "" {
		last--
	}
	if last-first < 2 {
		return s
	}

	opened := false
	if strings.HasPrefix(strings.TrimSpace(lines[first]), "```") {
		first++
		opened = true
	}
	if opened && strings.HasPrefix(strings.TrimSpace(lines[last-1]), "```") {
		last--
	}
	if !opened {
		return s
	}

	return strings.Join(lines[first:last], "\n")
}

// IsDocument reports whether s already looks like a complete HTML
// document.
func IsDocument(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

func wrapDocument(body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n</head>\n<body>\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
