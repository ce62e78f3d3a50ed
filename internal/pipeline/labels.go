package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayLabel renders a stage or pipeline name for human surfaces:
// underscores and dashes become spaces and words are title-cased, so
// "extract_text" reads as "Extract Text".
func DisplayLabel(name string) string {
	cleaned := strings.NewReplacer("_", " ", "-", " ").Replace(name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return name
	}
	return cases.Title(language.English).String(cleaned)
}
