package metadata

import "regexp"

// Patterns stripped from every string value, recursively. Script and style
// blocks go first so their contents never reach the later passes.
var sanitizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`),
	regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`),
	regexp.MustCompile(`(?i)</?(?:script|style)\b[^>]*>`),
	regexp.MustCompile(`(?i)\bon\w+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`\$\{[^}]*\}`),
	regexp.MustCompile(`\{\{[^}]*\}\}`),
	regexp.MustCompile(`(?s)<%.*?%>`),
	regexp.MustCompile(`#\{[^}]*\}`),
}

// sanitizeString strips injection patterns until the value is stable, so
// nested payloads like "<scr<script>ipt>" cannot reassemble themselves.
func sanitizeString(s string) string {
	for {
		cleaned := s
		for _, pattern := range sanitizePatterns {
			cleaned = pattern.ReplaceAllString(cleaned, "")
		}
		if cleaned == s {
			return cleaned
		}
		s = cleaned
	}
}

// sanitizeValue walks arbitrary decoded JSON and sanitizes every string,
// including strings nested inside arrays and objects.
func sanitizeValue(value any) any {
	switch typed := value.(type) {
	case string:
		return sanitizeString(typed)
	case map[string]any:
		cleaned := make(map[string]any, len(typed))
		for key, val := range typed {
			cleaned[sanitizeString(key)] = sanitizeValue(val)
		}
		return cleaned
	case []any:
		cleaned := make([]any, len(typed))
		for i, val := range typed {
			cleaned[i] = sanitizeValue(val)
		}
		return cleaned
	default:
		// Numbers, booleans, and nulls pass through unchanged.
		return value
	}
}
