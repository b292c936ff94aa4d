package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

func conversations(prefix string, n int) []benchtypes.Conversation {
	out := make([]benchtypes.Conversation, n)
	for i := range out {
		out[i] = benchtypes.Conversation{
			ID: fmt.Sprintf("%s-%d", prefix, i),
			Messages: []benchtypes.Message{
				{Speaker: benchtypes.SpeakerUser, Text: fmt.Sprintf("%s message %d", prefix, i)},
			},
		}
	}
	return out
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := NewFactory("telepathy")
	require.Error(t, err)
}

func TestFactoryCreatesLongContext(t *testing.T) {
	factory, err := NewFactory(TypeLongContext)
	require.NoError(t, err)
	answerer, err := factory.Create(&llm.StaticModel{}, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeLongContext, answerer.MemoryType())
}

func TestFactoryCachedLogRequiresEntrySource(t *testing.T) {
	factory, err := NewFactory(TypeCachedLog)
	require.NoError(t, err)
	_, err = factory.Create(&llm.StaticModel{}, nil)
	require.Error(t, err)
}

func TestLongContextAnswersFromFullHistory(t *testing.T) {
	model := &llm.StaticModel{Fallback: llm.Completion{
		Text: "Miso",
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 5, CacheReadInputTokens: 20},
		Cost:  0.01,
	}}
	a := NewLongContext(model)
	require.NoError(t, a.Initialize(context.Background()))
	require.NoError(t, a.AddConversations(context.Background(), conversations("c", 3)))

	result, err := a.AnswerQuestion(context.Background(), "what is my cat called?", "tc1")
	require.NoError(t, err)
	assert.Equal(t, "Miso", result.Answer)
	assert.Equal(t, []string{"c-0", "c-1", "c-2"}, result.RetrievedConversationIDs)
	assert.Equal(t, 100, result.InputTokens)
	assert.Equal(t, 20, result.CachedInputTokens)
	assert.Equal(t, 0.01, result.Cost)

	require.Len(t, model.Prompts, 1)
	assert.Contains(t, model.Prompts[0], "what is my cat called?")
	assert.Contains(t, model.Prompts[0], "c message 2")
	require.NoError(t, a.Cleanup(context.Background()))
}

func TestMatchesNoInformation(t *testing.T) {
	assert.True(t, matchesNoInformation(prompts.NoRelevantInformation))
	assert.True(t, matchesNoInformation("no information relevant to the question"))
	assert.True(t, matchesNoInformation("No information relevant to the questions."))
	assert.True(t, matchesNoInformation(""))
	assert.False(t, matchesNoInformation("The user's cat is called Miso."))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestBlockBasedAggregation(t *testing.T) {
	// 25 conversations over block size 10 make 3 blocks. Block 1 holds the
	// fact; blocks 0 and 2 return the sentinel.
	helper := &llm.StaticModel{Fn: func(prompt string) (llm.Completion, error) {
		completion := llm.Completion{
			Text:  prompts.NoRelevantInformation,
			Usage: llm.Usage{InputTokens: 50, OutputTokens: 10},
			Cost:  0.002,
		}
		if strings.Contains(prompt, "c message 10") {
			completion.Text = "The user said their cat is Miso."
		}
		return completion, nil
	}}
	main := &llm.StaticModel{Fallback: llm.Completion{
		Text:  "Miso",
		Usage: llm.Usage{InputTokens: 200, OutputTokens: 7, CacheReadInputTokens: 40},
		Cost:  0.05,
	}}

	a := NewBlockBased(main, helper, 10, 4)
	require.NoError(t, a.AddConversations(context.Background(), conversations("c", 25)))

	result, err := a.AnswerQuestion(context.Background(), "what is my cat called?", "tc1")
	require.NoError(t, err)

	assert.Equal(t, "Miso", result.Answer)
	// Input and cached tokens come from the final call only.
	assert.Equal(t, 200, result.InputTokens)
	assert.Equal(t, 40, result.CachedInputTokens)
	// Output tokens sum every call: 3 blocks of 10 plus the final 7.
	assert.Equal(t, 37, result.OutputTokens)
	// Cost sums every call.
	assert.InDelta(t, 3*0.002+0.05, result.Cost, 1e-9)

	// Only block 1's conversations count as retrieved.
	assert.Len(t, result.RetrievedConversationIDs, 10)
	assert.Contains(t, result.RetrievedConversationIDs, "c-10")
	assert.NotContains(t, result.RetrievedConversationIDs, "c-0")

	// Every block response plus the final answer is recorded.
	assert.Len(t, result.MemorySystemResponses, 4)
	assert.Equal(t, 4, helper.CallCount()+main.CallCount())
}

func TestExtractedContextAggregation(t *testing.T) {
	helper := &llm.StaticModel{Fallback: llm.Completion{
		Text:  "The user works at Acme.",
		Usage: llm.Usage{OutputTokens: 12},
		Cost:  0.003,
	}}
	main := &llm.StaticModel{Fallback: llm.Completion{
		Text:  "Acme",
		Usage: llm.Usage{InputTokens: 80, OutputTokens: 3},
		Cost:  0.02,
	}}

	a := NewExtractedContext(main, helper)
	require.NoError(t, a.AddConversations(context.Background(), conversations("c", 5)))

	result, err := a.AnswerQuestion(context.Background(), "where do I work?", "tc1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", result.Answer)
	assert.Equal(t, 80, result.InputTokens)
	assert.Equal(t, 15, result.OutputTokens)
	assert.InDelta(t, 0.023, result.Cost, 1e-9)
	assert.Len(t, result.RetrievedConversationIDs, 5)
}

func TestExtractedContextSentinelRetrievesNothing(t *testing.T) {
	helper := &llm.StaticModel{Fallback: llm.Completion{Text: prompts.NoRelevantInformation}}
	main := &llm.StaticModel{Fallback: llm.Completion{Text: "I don't know"}}

	a := NewExtractedContext(main, helper)
	require.NoError(t, a.AddConversations(context.Background(), conversations("c", 5)))

	result, err := a.AnswerQuestion(context.Background(), "where do I work?", "tc1")
	require.NoError(t, err)
	assert.Empty(t, result.RetrievedConversationIDs)
}

type entryTable map[string]benchtypes.EvaluationLogEntry

func (t entryTable) Entry(id string) (benchtypes.EvaluationLogEntry, bool) {
	e, ok := t[id]
	return e, ok
}

func TestCachedLogReplaysRecordedAnswer(t *testing.T) {
	table := entryTable{
		"tc1": {AnswerResult: benchtypes.AnswerResult{Answer: "Miso", Cost: 0.5}},
	}
	a := NewCachedLog(table)

	result, err := a.AnswerQuestion(context.Background(), "q", "tc1")
	require.NoError(t, err)
	assert.Equal(t, "Miso", result.Answer)
	assert.Equal(t, 0.5, result.Cost)

	_, err = a.AnswerQuestion(context.Background(), "q", "missing")
	require.Error(t, err)
}

func TestMem0RoundTrip(t *testing.T) {
	var added []mem0AddRequest
	var deleted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/memories":
			var req mem0AddRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			added = append(added, req)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && r.URL.Path == "/search":
			json.NewEncoder(w).Encode(mem0SearchResponse{Results: []mem0SearchResult{
				{Memory: "cat is Miso", Metadata: map[string]any{"conversation_id": "c-1"}},
			}})
		case r.Method == http.MethodDelete && r.URL.Path == "/memories":
			deleted = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	model := &llm.StaticModel{Fallback: llm.Completion{Text: "Miso"}}
	a := NewMem0(model, server.URL)
	require.NoError(t, a.Initialize(context.Background()))
	require.NoError(t, a.AddConversations(context.Background(), conversations("c", 2)))
	require.Len(t, added, 2)
	assert.Equal(t, "c-0", added[0].Metadata["conversation_id"])

	result, err := a.AnswerQuestion(context.Background(), "what is my cat called?", "tc1")
	require.NoError(t, err)
	assert.Equal(t, "Miso", result.Answer)
	assert.Equal(t, []string{"c-1"}, result.RetrievedConversationIDs)

	require.NoError(t, a.Cleanup(context.Background()))
	assert.True(t, deleted)
}

func TestDecodeMem0Metadata(t *testing.T) {
	meta, err := decodeMem0Metadata(map[string]any{"conversation_id": "c-7", "score": 0.91})
	require.NoError(t, err)
	assert.Equal(t, "c-7", meta.ConversationID)

	// Some servers store ids as numbers; lenient decoding keeps them usable.
	meta, err = decodeMem0Metadata(map[string]any{"conversation_id": 42})
	require.NoError(t, err)
	assert.Equal(t, "42", meta.ConversationID)

	meta, err = decodeMem0Metadata(nil)
	require.NoError(t, err)
	assert.Empty(t, meta.ConversationID)
}

func TestCheckMem0Server(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	// Any response means the server is up; only connection failures are
	// fatal.
	require.NoError(t, CheckMem0Server(context.Background(), server.URL))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	err := CheckMem0Server(context.Background(), down.URL)
	require.Error(t, err)
	assert.True(t, benchtypes.IsFatal(err))
}
