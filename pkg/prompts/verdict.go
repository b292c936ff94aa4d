package prompts

import "strings"

// Verdict is the parsed outcome of a judge response.
type Verdict int

const (
	// VerdictRight means the response contained only "right".
	VerdictRight Verdict = iota
	// VerdictWrong means the response contained only "wrong".
	VerdictWrong
	// VerdictAmbiguous means the response contained both words; callers
	// count it as incorrect after warning.
	VerdictAmbiguous
	// VerdictInvalid means the response contained neither word; callers
	// retry within a small budget.
	VerdictInvalid
)

// ParseJudgeVerdict classifies a judge response by case-insensitive substring
// check for "right" and "wrong".
func ParseJudgeVerdict(response string) Verdict {
	lowered := strings.ToLower(response)
	hasRight := strings.Contains(lowered, "right")
	hasWrong := strings.Contains(lowered, "wrong")
	switch {
	case hasRight && hasWrong:
		return VerdictAmbiguous
	case hasRight:
		return VerdictRight
	case hasWrong:
		return VerdictWrong
	default:
		return VerdictInvalid
	}
}

// ParseAnswerability classifies an answerability response. "unanswerable"
// is checked first because it contains "answerable" as a substring. The
// second return is false when neither word is present.
func ParseAnswerability(response string) (answerable, ok bool) {
	lowered := strings.ToLower(response)
	switch {
	case strings.Contains(lowered, "unanswerable"):
		return false, true
	case strings.Contains(lowered, "answerable"):
		return true, true
	default:
		return false, false
	}
}
