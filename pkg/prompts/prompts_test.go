package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

func TestParseJudgeVerdict(t *testing.T) {
	tests := []struct {
		response string
		verdict  Verdict
	}{
		{"RIGHT", VerdictRight},
		{"wrong", VerdictWrong},
		{"The answer is Right.", VerdictRight},
		{"right wrong", VerdictAmbiguous},
		{"It is wrong, not right", VerdictAmbiguous},
		{"maybe", VerdictInvalid},
		{"", VerdictInvalid},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.verdict, ParseJudgeVerdict(tc.response), "response %q", tc.response)
	}
}

func TestJudgePromptContainsContract(t *testing.T) {
	evidence := []benchtypes.Message{{Speaker: benchtypes.SpeakerUser, Text: "my cat is called Miso"}}

	for _, eval := range []AnsweringEvaluation{FactualEvaluation{}, MultiEvidenceEvaluation{}} {
		prompt := eval.JudgePrompt("what is my cat called?", "Miso", "Your cat is Miso", evidence)
		assert.Contains(t, prompt, "what is my cat called?")
		assert.Contains(t, prompt, "Miso")
		assert.Contains(t, prompt, "my cat is called Miso")
		assert.Contains(t, prompt, "RIGHT or WRONG")
	}
}

func TestBlockExtractionPromptCarriesSentinel(t *testing.T) {
	prompt := BlockExtractionPrompt("where do I work?", []benchtypes.Conversation{
		{Messages: []benchtypes.Message{{Speaker: benchtypes.SpeakerUser, Text: "I started at Acme"}}},
	})
	assert.Contains(t, prompt, NoRelevantInformation)
	assert.Contains(t, prompt, "I started at Acme")
	assert.Contains(t, prompt, "where do I work?")
}

func TestParseAnswerability(t *testing.T) {
	answerable, ok := ParseAnswerability("ANSWERABLE")
	assert.True(t, ok)
	assert.True(t, answerable)

	answerable, ok = ParseAnswerability("The question is unanswerable from these conversations.")
	assert.True(t, ok)
	assert.False(t, answerable)

	_, ok = ParseAnswerability("I am not sure.")
	assert.False(t, ok)
}
