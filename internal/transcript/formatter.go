package transcript

import (
	"strings"
	"time"
)

// Format renders user and assistant entries as "<Role>: <text>" lines.
// Breadcrumbs and unknown roles are dropped.
func Format(entries []Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		var prefix string
		switch e.Role {
		case RoleUser:
			prefix = "User:"
		case RoleAssistant:
			prefix = "Assistant:"
		default:
			continue
		}
		lines = append(lines, prefix+" "+strings.TrimSpace(e.Text))
	}
	return strings.Join(lines, "\n")
}

// isoMillis matches the millisecond UTC form used by browsers' toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

// GenerateFilename returns transcript_[<label>_]<timestamp>.txt where the
// timestamp is the UTC ISO form of now with ':' and '.' replaced by '-'.
func GenerateFilename(label string, now time.Time) string {
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format(isoMillis))
	if label != "" {
		return "transcript_" + label + "_" + ts + ".txt"
	}
	return "transcript_" + ts + ".txt"
}
