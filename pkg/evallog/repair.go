package evallog

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// RepairJSONArray recovers a truncated JSON array: content that opens with
// "[" but was cut off mid-object. It scans for the end of the last complete
// top-level object, truncates there, and closes the array. The input is
// never written back to disk.
func RepairJSONArray(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "[") {
		return "", errors.Wrap(benchtypes.ErrJSONRepairFailed, "content does not start with [")
	}

	depth := 0
	inString := false
	escaped := false
	lastComplete := -1 // index just past the last complete top-level object

	for i, r := range trimmed {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[', '{':
			if !inString {
				depth++
			}
		case ']', '}':
			if !inString {
				depth--
				// Depth 1 means we are back at the top level of the outer
				// array: one element just closed.
				if depth == 1 {
					lastComplete = i + 1
				}
				// Depth 0 means the outer array itself closed: nothing to
				// repair.
				if depth == 0 {
					return trimmed, nil
				}
			}
		}
	}

	if lastComplete < 0 {
		// No complete element survived; an empty array is the best prefix.
		return "[]", nil
	}
	return trimmed[:lastComplete] + "]", nil
}

// ReadEntries loads an evaluation log file, repairing it in memory when the
// array was truncated by an interrupted run. Unknown fields in entries are
// ignored. Unrecoverable files are a fatal error carrying the path.
func ReadEntries(path string) ([]benchtypes.EvaluationLogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read log file %s", path)
	}

	var entries []benchtypes.EvaluationLogEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}

	repaired, err := RepairJSONArray(string(data))
	if err != nil {
		return nil, benchtypes.Fatal(errors.Wrapf(err, "log file %s is beyond repair", path))
	}
	if err := json.Unmarshal([]byte(repaired), &entries); err != nil {
		return nil, benchtypes.Fatal(errors.Wrapf(benchtypes.ErrJSONRepairFailed,
			"repaired log file %s still does not parse: %v", path, err))
	}
	return entries, nil
}
