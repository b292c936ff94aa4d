package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/llm"
	"github.com/jingkaihe/crmmembench/pkg/logger"
	"github.com/jingkaihe/crmmembench/pkg/prompts"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// Mem0 delegates storage and retrieval to a mem0 REST server. Each instance
// writes under a fresh session user id so concurrent test cases never see
// each other's memories.
type Mem0 struct {
	model   llm.Model
	baseURL string
	client  *http.Client
	userID  string
}

// NewMem0 creates an answerer against the mem0 server at baseURL.
func NewMem0(model llm.Model, baseURL string) *Mem0 {
	return &Mem0{
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// MemoryType implements MemoryAnswerer.
func (a *Mem0) MemoryType() string { return TypeMem0 }

// CheckMem0Server verifies the server at baseURL responds at all. An
// unreachable server is fatal at startup, since every test case of a mem0
// run would fail the same way. Any HTTP response counts as reachable.
func CheckMem0Server(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/memories?user_id=healthcheck", nil)
	if err != nil {
		return errors.Wrap(err, "building mem0 health request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return benchtypes.Fatal(errors.Wrapf(err, "mem0 server at %s is unreachable", baseURL))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Initialize implements MemoryAnswerer, allocating the session user id.
func (a *Mem0) Initialize(ctx context.Context) error {
	a.userID = uuid.NewString()
	return nil
}

type mem0Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mem0AddRequest struct {
	Messages []mem0Message     `json:"messages"`
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type mem0SearchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

type mem0SearchResult struct {
	Memory   string         `json:"memory"`
	Metadata map[string]any `json:"metadata"`
}

// mem0Metadata is the subset of search-result metadata we care about. The
// server echoes metadata as free-form JSON, so it is decoded leniently.
type mem0Metadata struct {
	ConversationID string `mapstructure:"conversation_id"`
}

func decodeMem0Metadata(raw map[string]any) (mem0Metadata, error) {
	var meta mem0Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return meta, errors.Wrap(err, "building mem0 metadata decoder")
	}
	return meta, errors.Wrap(decoder.Decode(raw), "decoding mem0 metadata")
}

type mem0SearchResponse struct {
	Results []mem0SearchResult `json:"results"`
}

// AddConversations implements MemoryAnswerer, storing each conversation as
// one mem0 add call tagged with its conversation id.
func (a *Mem0) AddConversations(ctx context.Context, conversations []benchtypes.Conversation) error {
	for _, c := range conversations {
		messages := make([]mem0Message, 0, len(c.Messages))
		for _, m := range c.Messages {
			role := "user"
			if m.Speaker == benchtypes.SpeakerAssistant {
				role = "assistant"
			}
			messages = append(messages, mem0Message{Role: role, Content: m.Text})
		}
		req := mem0AddRequest{
			Messages: messages,
			UserID:   a.userID,
			Metadata: map[string]string{"conversation_id": c.ID},
		}
		if err := a.post(ctx, "/memories", req, nil); err != nil {
			return errors.Wrapf(err, "adding conversation %s to mem0", c.ID)
		}
	}
	return nil
}

// AnswerQuestion implements MemoryAnswerer: search mem0, then answer from
// the returned memories with the main model.
func (a *Mem0) AnswerQuestion(ctx context.Context, question, testCaseID string) (benchtypes.AnswerResult, error) {
	var search mem0SearchResponse
	if err := a.post(ctx, "/search", mem0SearchRequest{Query: question, UserID: a.userID}, &search); err != nil {
		return benchtypes.AnswerResult{}, errors.Wrap(err, "mem0 search failed")
	}

	var notes []string
	var retrieved []string
	seen := make(map[string]struct{})
	for _, r := range search.Results {
		notes = append(notes, r.Memory)
		meta, err := decodeMem0Metadata(r.Metadata)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("skipping malformed mem0 metadata")
			continue
		}
		if meta.ConversationID == "" {
			continue
		}
		if _, dup := seen[meta.ConversationID]; dup {
			continue
		}
		seen[meta.ConversationID] = struct{}{}
		retrieved = append(retrieved, meta.ConversationID)
	}

	final, err := a.model.Complete(ctx, prompts.FinalAnswerPrompt(question, notes))
	if err != nil {
		return benchtypes.AnswerResult{}, errors.Wrap(err, "final answer failed")
	}

	return benchtypes.AnswerResult{
		Answer:                   final.Text,
		RetrievedConversationIDs: retrieved,
		InputTokens:              final.Usage.InputTokens,
		OutputTokens:             final.Usage.OutputTokens,
		CachedInputTokens:        final.Usage.CacheReadInputTokens,
		Cost:                     final.Cost,
		MemorySystemResponses:    append(notes, final.Text),
	}, nil
}

// Cleanup implements MemoryAnswerer, deleting the session's memories.
func (a *Mem0) Cleanup(ctx context.Context) error {
	url := fmt.Sprintf("%s/memories?user_id=%s", a.baseURL, a.userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return errors.Wrap(err, "building mem0 delete request")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		// Leaked sessions only waste server-side space; do not fail the
		// test case over them.
		logger.G(ctx).WithError(err).WithField("user_id", a.userID).
			Warn("failed to delete mem0 session")
		return nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (a *Mem0) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "serializing mem0 request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building mem0 request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "mem0 request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading mem0 response")
	}
	if resp.StatusCode >= 300 {
		return errors.Errorf("mem0 returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(data, out), "parsing mem0 response from %s", path)
}
