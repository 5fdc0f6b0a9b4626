package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog()
	require.NoError(t, err)

	action, err := catalog.Lookup("flush-dns-macos")
	require.NoError(t, err)
	assert.Equal(t, "macos", action.OS)
	assert.Equal(t, executorRemote, action.Executor)
	assert.Len(t, action.Commands, 2)

	embedded, err := catalog.Lookup("clear-browser-cache")
	require.NoError(t, err)
	assert.Equal(t, executorEmbedded, embedded.Executor)
}

func TestLookupUnknownAction(t *testing.T) {
	catalog, err := LoadCatalog()
	require.NoError(t, err)

	_, err = catalog.Lookup("format-disk")
	require.ErrorIs(t, err, ErrActionUnknown)
}

func TestParseCatalogRejectsDuplicates(t *testing.T) {
	doc := []byte(`
actions:
  - id: a
    commands: ["true"]
  - id: a
    commands: ["true"]
`)
	_, err := parseCatalog(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParseCatalogRejectsEmpty(t *testing.T) {
	_, err := parseCatalog([]byte("actions: []"))
	require.Error(t, err)
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, "low", RiskLevel(AllowlistedAction{}))
	assert.Equal(t, "medium", RiskLevel(AllowlistedAction{Risks: []string{"sessions drop"}}))
}
