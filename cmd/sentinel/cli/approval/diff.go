package approval

import (
	"context"
	"encoding/json"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"
)

// maxDiffChars caps the logged diff so a large input rewrite doesn't bloat
// the session log.
const maxDiffChars = 2000

// logInputDiff logs what the reviewer changed when an allow carries
// updated_input. Debug-level and best-effort: the decision path never
// depends on it.
func logInputDiff(ctx context.Context, original, updated json.RawMessage) {
	origStr := canonicalJSON(original)
	updStr := canonicalJSON(updated)
	if origStr == updStr {
		return
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(origStr, updStr, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var summary string
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			summary += "+{" + d.Text + "}"
		case diffmatchpatch.DiffDelete:
			summary += "-{" + d.Text + "}"
		case diffmatchpatch.DiffEqual:
			// Equal runs are elided; only the edits matter in the log.
		}
	}
	if len(summary) > maxDiffChars {
		summary = summary[:maxDiffChars] + "..."
	}

	logging.Debug(ctx, "reviewer modified tool input", "diff", summary)
}

// canonicalJSON re-encodes raw JSON with stable formatting so the diff
// reflects content changes rather than whitespace.
func canonicalJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
