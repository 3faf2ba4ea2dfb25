package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"market-research/backend/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestBuildContext(t *testing.T) {
	jobs := []*models.Job{
		{Phase: 1, Status: models.JobStatusCompleted, OutputText: strPtr("Summary text\n")},
		{Phase: 2, Status: models.JobStatusCancelled, OutputText: strPtr("stale dynamics")},
		{Phase: 2, Status: models.JobStatusCompleted, OutputText: strPtr("Fresh dynamics")},
		{Phase: 3, Status: models.JobStatusFailed},
	}

	got := BuildContext(jobs)
	assert.Equal(t, "Phase 1:\nSummary text\n\nPhase 2:\nFresh dynamics", got)
	assert.Equal(t, got, BuildContext(jobs), "pure function")
	assert.Empty(t, BuildContext(nil))
}

func TestRenderPrompt(t *testing.T) {
	def := PhaseDefinition{Phase: 2, PromptTemplate: "Report: {title}\nSo far:\n{previous_content}\nGo."}

	got := RenderPrompt(def, "Quantum Encryption Market", "Phase 1:\nT1", "en", "en")
	assert.Equal(t, "Report: Quantum Encryption Market\nSo far:\nPhase 1:\nT1\nGo.", got)

	got = RenderPrompt(def, "Quantum Encryption Market", "", "de", "en")
	assert.True(t, strings.HasPrefix(got, "IMPORTANT: Respond entirely in German."))
	assert.Contains(t, got, "Report: Quantum Encryption Market")

	got = RenderPrompt(def, "X", "", "sw", "en")
	assert.True(t, strings.HasPrefix(got, "IMPORTANT: Respond entirely in sw."))
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "Korean", LanguageName("ko"))
	assert.Equal(t, "xx", LanguageName("xx"))
}
