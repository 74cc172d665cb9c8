package metadata

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validImageMetadata() map[string]any {
	return map[string]any{
		"type":  "image",
		"url":   "https://cdn.example.com/materials/abc.png",
		"title": "Ein Löwe",
	}
}

func TestValidateAcceptsWellFormedImageMetadata(t *testing.T) {
	v := NewValidator(nil)
	result := v.Validate(validImageMetadata(), "image")
	require.True(t, result.OK, result.Reason)
	assert.Equal(t, "image", result.Sanitized["type"])
}

func TestValidateRejectsSchemaViolations(t *testing.T) {
	v := NewValidator(nil)

	cases := []struct {
		name string
		meta map[string]any
		typ  string
	}{
		{"nil metadata", nil, "image"},
		{"missing url", map[string]any{"type": "image", "title": "x"}, "image"},
		{"missing title", map[string]any{"type": "image", "url": "https://x"}, "image"},
		{"empty title", map[string]any{"type": "image", "url": "https://x", "title": ""}, "image"},
		{"type mismatch", map[string]any{"type": "document", "url": "https://x", "title": "x"}, "image"},
		{"unknown artifact type", validImageMetadata(), "hologram"},
		{"non-string url", map[string]any{"type": "image", "url": 7, "title": "x"}, "image"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := v.Validate(tc.meta, tc.typ)
			assert.False(t, result.OK)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestSanitizationRunsBeforeSchemaValidation(t *testing.T) {
	v := NewValidator(nil)
	meta := validImageMetadata()
	meta["title"] = `<script>steal()</script>Ein Löwe`
	meta["description"] = `click onclick="evil()" here javascript:alert(1) and ${process.env.SECRET}`
	meta["tags"] = []any{"safe", "{{injected}}", map[string]any{"note": "<%= leak %>"}}
	meta["nested"] = map[string]any{"caption": "#{payload} fine"}

	result := v.Validate(meta, "image")
	require.True(t, result.OK, result.Reason)

	assert.Equal(t, "Ein Löwe", result.Sanitized["title"])
	desc := result.Sanitized["description"].(string)
	assert.NotContains(t, desc, "onclick")
	assert.NotContains(t, desc, "javascript:")
	assert.NotContains(t, desc, "${")

	tags := result.Sanitized["tags"].([]any)
	assert.Equal(t, "safe", tags[0])
	assert.Equal(t, "", tags[1])
	inner := tags[2].(map[string]any)
	assert.NotContains(t, inner["note"], "<%")

	nested := result.Sanitized["nested"].(map[string]any)
	assert.Equal(t, " fine", nested["caption"])
}

func TestSanitizationHandlesReassemblingPayloads(t *testing.T) {
	v := NewValidator(nil)
	meta := validImageMetadata()
	meta["title"] = "<scr<script>x</script>ipt>alert(1)</script>ok"

	result := v.Validate(meta, "image")
	require.True(t, result.OK, result.Reason)
	assert.NotContains(t, result.Sanitized["title"], "<script")
	assert.Contains(t, result.Sanitized["title"], "ok")
}

func TestSerializedSizeCeilingIsExact(t *testing.T) {
	v := NewValidator(nil)

	meta := validImageMetadata()
	meta["pad"] = ""
	base, err := json.Marshal(sanitizeValue(meta).(map[string]any))
	require.NoError(t, err)

	// Pad so the serialized object is exactly one byte under the ceiling.
	padding := DefaultSerializedLimit - 1 - len(base)
	require.Greater(t, padding, 0)
	meta["pad"] = strings.Repeat("a", padding)

	serialized, err := json.Marshal(meta)
	require.NoError(t, err)
	require.Equal(t, DefaultSerializedLimit-1, len(serialized))

	result := v.Validate(meta, "image")
	assert.True(t, result.OK, result.Reason)

	// One more byte hits the ceiling and is rejected, not truncated.
	meta["pad"] = strings.Repeat("a", padding+1)
	result = v.Validate(meta, "image")
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "limit")
}

func TestRoundTripLaw(t *testing.T) {
	v := NewValidator(nil)
	meta := validImageMetadata()
	meta["params"] = map[string]any{
		"seed":   float64(42),
		"sizes":  []any{"512x512", "1024x1024"},
		"public": true,
	}

	result := v.Validate(meta, "image")
	require.True(t, result.OK, result.Reason)

	stored, err := Serialize(result.Sanitized)
	require.NoError(t, err)

	reparsed, err := Reparse(stored)
	require.NoError(t, err)
	assert.Equal(t, result.Sanitized, reparsed)

	// The reparsed object still validates against its schema.
	again := v.Validate(reparsed, "image")
	assert.True(t, again.OK, again.Reason)
}

func TestValidateRawRepairsSloppyJSON(t *testing.T) {
	v := NewValidator(nil)

	// Trailing comma and single quotes, the usual provider sloppiness.
	raw := `{'type': 'image', 'url': 'https://cdn.example.com/a.png', 'title': 'Löwe',}`
	result := v.ValidateRaw(raw, "image")
	require.True(t, result.OK, result.Reason)
	assert.Equal(t, "Löwe", result.Sanitized["title"])

	assert.False(t, v.ValidateRaw("", "image").OK)
	assert.False(t, v.ValidateRaw(`[1,2,3]`, "image").OK)
}
