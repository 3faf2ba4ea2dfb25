package services

import (
	"fmt"
	"strings"

	"market-research/backend/pkg/models"
)

// languageNames maps locale codes to the language name used in prompts.
var languageNames = map[string]string{
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"pt": "Portuguese",
	"nl": "Dutch",
	"ru": "Russian",
	"ar": "Arabic",
}

// LanguageName returns the display name of a locale code, or the code itself.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// BuildContext concatenates the output of completed jobs, each prefixed with
// its phase number. Jobs must be ordered by phase; other statuses are skipped.
func BuildContext(jobs []*models.Job) string {
	var b strings.Builder
	for _, job := range jobs {
		if job.Status != models.JobStatusCompleted || job.OutputText == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Phase %d:\n%s", job.Phase, strings.TrimSpace(*job.OutputText))
	}
	return b.String()
}

// RenderPrompt fills the phase template. Non-default languages get an
// instruction to answer entirely in that language.
func RenderPrompt(def PhaseDefinition, title, previous, language, defaultLanguage string) string {
	prompt := strings.NewReplacer(
		"{title}", title,
		"{previous_content}", previous,
	).Replace(def.PromptTemplate)

	if language == "" || language == defaultLanguage {
		return prompt
	}
	name := LanguageName(language)
	return fmt.Sprintf("IMPORTANT: Respond entirely in %s. Every heading, sentence and list item must be written in %s.\n\n%s",
		name, name, prompt)
}
