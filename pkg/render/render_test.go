package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPreview(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	out, err := engine.Render("preview.tmpl", map[string]any{
		"Title":         "Flush DNS cache",
		"OS":            "macos",
		"Description":   "Clears the resolver cache.",
		"Commands":      []string{"sudo dscacheutil -flushcache"},
		"Requirements":  []string{"admin prompt may appear"},
		"Risks":         []string{},
		"Reversible":    false,
		"EstimatedTime": "10s",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Flush DNS cache (macos)")
	assert.Contains(t, out, "$ sudo dscacheutil -flushcache")
	assert.Contains(t, out, "Reversible: no")
	assert.NotContains(t, out, "Risks:")
}

func TestRenderUnknownTemplate(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	_, err = engine.Render("missing.tmpl", nil)
	require.Error(t, err)
}
