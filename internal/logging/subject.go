package logging

import "strings"

// FormatSubject builds the lane/pipeline/stage subject string used in console output.
func FormatSubject(lane, pipelineID, stage string) string {
	lane = strings.TrimSpace(lane)
	pipelineID = strings.TrimSpace(pipelineID)
	stage = strings.TrimSpace(stage)
	parts := make([]string, 0, 2)
	if lane != "" {
		var formatted string
		if len(lane) > 1 {
			formatted = strings.ToUpper(lane[:1]) + strings.ToLower(lane[1:])
		} else {
			formatted = strings.ToUpper(lane)
		}
		parts = append(parts, formatted)
	}
	switch {
	case pipelineID != "" && stage != "":
		parts = append(parts, shortID(pipelineID)+" ("+stage+")")
	case pipelineID != "":
		parts = append(parts, shortID(pipelineID))
	case stage != "":
		parts = append(parts, stage)
	}
	return strings.Join(parts, " · ")
}

// shortID trims UUID-sized identifiers down to their first group so console
// lines stay scannable; full identifiers remain available in JSON output.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 && len(id) > 12 {
		return id[:i]
	}
	return id
}
