// Package prompts owns the prompt templates the benchmark sends to models:
// judge prompts for scoring answers, block extraction prompts for the
// block-based memory strategy, and the final answer synthesis prompt.
// Rubric wording is an opaque contract; callers never inspect it.
package prompts

import (
	"fmt"
	"strings"

	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// NoRelevantInformation is the canonical sentinel a block extraction returns
// when the block holds nothing useful. Matching is fuzzy on the consumer
// side, so minor model paraphrases still count.
const NoRelevantInformation = "No information relevant to the question."

// AnsweringEvaluation supplies the judge prompt used to score answers for a
// particular family of test cases. Each generator carries one.
type AnsweringEvaluation interface {
	// JudgePrompt builds the prompt whose response must contain RIGHT or
	// WRONG.
	JudgePrompt(question, correctAnswer, modelAnswer string, evidence []benchtypes.Message) string
}

// FactualEvaluation judges single-fact answers against the canonical answer.
type FactualEvaluation struct{}

// JudgePrompt builds the factual rubric prompt.
func (FactualEvaluation) JudgePrompt(question, correctAnswer, modelAnswer string, evidence []benchtypes.Message) string {
	var b strings.Builder
	b.WriteString("You are grading an answer produced by a conversational memory system.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	fmt.Fprintf(&b, "Correct answer: %s\n", correctAnswer)
	fmt.Fprintf(&b, "Model answer: %s\n\n", modelAnswer)
	if len(evidence) > 0 {
		b.WriteString("The correct answer is supported by these conversation excerpts:\n")
		for _, m := range evidence {
			fmt.Fprintf(&b, "- %s: %s\n", m.Speaker, m.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString("The model answer is correct if it conveys the same fact as the correct answer. ")
	b.WriteString("Extra detail is fine; contradicting or omitting the fact is not.\n")
	b.WriteString("Reply with exactly one word: RIGHT or WRONG.")
	return b.String()
}

// MultiEvidenceEvaluation judges answers that must synthesize several
// evidence items; partial answers covering only some items are wrong.
type MultiEvidenceEvaluation struct{}

// JudgePrompt builds the multi-evidence rubric prompt.
func (MultiEvidenceEvaluation) JudgePrompt(question, correctAnswer, modelAnswer string, evidence []benchtypes.Message) string {
	var b strings.Builder
	b.WriteString("You are grading an answer that requires combining facts from multiple conversations.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	fmt.Fprintf(&b, "Correct answer: %s\n", correctAnswer)
	fmt.Fprintf(&b, "Model answer: %s\n\n", modelAnswer)
	if len(evidence) > 0 {
		b.WriteString("Supporting excerpts:\n")
		for _, m := range evidence {
			fmt.Fprintf(&b, "- %s: %s\n", m.Speaker, m.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString("The model answer is correct only if it covers every fact the correct answer covers. ")
	b.WriteString("Reply with exactly one word: RIGHT or WRONG.")
	return b.String()
}

// BlockExtractionPrompt asks a helper model to pull question-relevant content
// out of one block of conversations.
func BlockExtractionPrompt(question string, conversations []benchtypes.Conversation) string {
	var b strings.Builder
	b.WriteString("Below is a set of conversations between a user and an assistant. ")
	fmt.Fprintf(&b, "Extract every piece of information relevant to answering this question:\n\n%s\n\n", question)
	fmt.Fprintf(&b, "If nothing in the conversations is relevant, reply with exactly: %s\n\n", NoRelevantInformation)
	writeConversations(&b, conversations)
	return b.String()
}

// FinalAnswerPrompt asks the main model to answer the question from the
// aggregated extractions.
func FinalAnswerPrompt(question string, extractions []string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the notes below, which were extracted from past conversations.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nNotes:\n", question)
	for _, e := range extractions {
		fmt.Fprintf(&b, "%s\n\n", e)
	}
	b.WriteString("Answer concisely.")
	return b.String()
}

// LongContextAnswerPrompt asks the main model to answer directly from the
// full conversation history.
func LongContextAnswerPrompt(question string, conversations []benchtypes.Conversation) string {
	var b strings.Builder
	b.WriteString("Below is the full history of conversations between a user and an assistant. ")
	fmt.Fprintf(&b, "Answer this question from the history:\n\n%s\n\n", question)
	writeConversations(&b, conversations)
	b.WriteString("\nAnswer concisely.")
	return b.String()
}

// AnswerabilityPrompt asks whether the question can be answered from the
// given conversations alone. The response must contain ANSWERABLE or
// UNANSWERABLE.
func AnswerabilityPrompt(question string, conversations []benchtypes.Conversation) string {
	var b strings.Builder
	b.WriteString("Below is a set of conversations between a user and an assistant. ")
	fmt.Fprintf(&b, "Decide whether this question can be answered using only these conversations:\n\n%s\n\n", question)
	writeConversations(&b, conversations)
	b.WriteString("\nReply with exactly one word: ANSWERABLE or UNANSWERABLE.")
	return b.String()
}

func writeConversations(b *strings.Builder, conversations []benchtypes.Conversation) {
	for i, c := range conversations {
		fmt.Fprintf(b, "--- Conversation %d ---\n", i+1)
		for _, m := range c.Messages {
			fmt.Fprintf(b, "%s: %s\n", m.Speaker, m.Text)
		}
		b.WriteString("\n")
	}
}
