package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-research/backend/pkg/models"
)

func TestDefaultPhaseCatalog(t *testing.T) {
	catalog, err := DefaultPhaseCatalog()
	require.NoError(t, err)
	require.Equal(t, 4, catalog.Len())

	wantSections := []string{
		models.SectionMarketAnalysis,
		models.SectionCompetitiveAnalysis,
		models.SectionTrends,
		models.SectionKeyPlayers,
	}
	for i, def := range catalog.Definitions() {
		assert.Equal(t, i+1, def.Phase)
		assert.Equal(t, wantSections[i], def.Section)
		assert.Contains(t, def.PromptTemplate, "{title}")
		assert.Positive(t, def.MaxTokens)
		if def.Phase > 1 {
			assert.Contains(t, def.PromptTemplate, "{previous_content}")
		}
	}
}

func TestPhaseCatalog_DefinitionForUnknownPhase(t *testing.T) {
	catalog, err := DefaultPhaseCatalog()
	require.NoError(t, err)

	def, err := catalog.DefinitionFor(2)
	require.NoError(t, err)
	assert.Equal(t, "Market Dynamics", def.Name)

	for _, phase := range []int{0, 5} {
		_, err := catalog.DefinitionFor(phase)
		require.Error(t, err)
		assert.True(t, IsConfig(err))
		assert.ErrorIs(t, err, ErrPhaseNotDefined)
	}
}

func TestPhaseCatalog_DefinitionsAreCopies(t *testing.T) {
	catalog, err := DefaultPhaseCatalog()
	require.NoError(t, err)

	defs := catalog.Definitions()
	defs[0].PromptTemplate = "changed"

	def, err := catalog.DefinitionFor(1)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", def.PromptTemplate)
}

func TestParsePhaseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "phases: []", "empty"},
		{"gap", `
phases:
  - {phase: 1, section: a, max_tokens: 10, temperature: 0.5, prompt: "{title}"}
  - {phase: 3, section: b, max_tokens: 10, temperature: 0.5, prompt: "{title}"}
`, "position 2"},
		{"no title", `
phases:
  - {phase: 1, section: a, max_tokens: 10, temperature: 0.5, prompt: "hello"}
`, "{title}"},
		{"no section", `
phases:
  - {phase: 1, max_tokens: 10, temperature: 0.5, prompt: "{title}"}
`, "no section"},
		{"tokens", `
phases:
  - {phase: 1, section: a, max_tokens: 0, temperature: 0.5, prompt: "{title}"}
`, "max_tokens"},
		{"temperature", `
phases:
  - {phase: 1, section: a, max_tokens: 10, temperature: 3, prompt: "{title}"}
`, "temperature"},
		{"malformed", "phases: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePhaseCatalog([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, IsConfig(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadPhaseCatalog(t *testing.T) {
	catalog, err := LoadPhaseCatalog("")
	require.NoError(t, err)
	assert.Equal(t, 4, catalog.Len())

	path := filepath.Join(t.TempDir(), "phases.yaml")
	doc := strings.TrimSpace(`
phases:
  - phase: 1
    name: Only
    section: market_analysis
    max_tokens: 100
    temperature: 0.2
    prompt: "Summarize {title}"
`)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	catalog, err = LoadPhaseCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())

	_, err = LoadPhaseCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsConfig(err))
}
