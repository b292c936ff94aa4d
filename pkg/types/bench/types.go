// Package bench defines the core data model shared across the benchmark:
// messages, conversations, evidence items, test cases, and the results
// produced when a memory system answers a question.
package bench

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/google/uuid"
)

// Speaker roles for conversation messages.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Message is a single utterance in a conversation. Immutable once created.
type Message struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Conversation is an ordered sequence of messages. ContainsEvidence marks
// conversations that carry the information needed to answer a question.
type Conversation struct {
	ID               string    `json:"id,omitempty"`
	Messages         []Message `json:"messages"`
	ContainsEvidence bool      `json:"containsEvidence,omitempty"`
}

// EnsureID fills in a fresh unique id when the conversation was loaded from
// persistence without one. Identity must be stable within a run.
func (c *Conversation) EnsureID() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
}

// EvidenceItem pairs a question with its canonical answer, the specific
// messages that contain the answer, and the full conversations those messages
// belong to.
type EvidenceItem struct {
	Question         string         `json:"question"`
	Answer           string         `json:"answer"`
	MessageEvidences []Message      `json:"messageEvidences"`
	Conversations    []Conversation `json:"conversations"`
	Category         string         `json:"category"`
	Scenario         string         `json:"scenario,omitempty"`
	PersonID         string         `json:"personId,omitempty"`
}

// Hash returns a stable 64-bit digest of the item's identity fields.
// Equal items hash equal, which is what deduplication across context sizes
// relies on.
func (e EvidenceItem) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(e.Question))
	h.Write([]byte{0})
	h.Write([]byte(e.Answer))
	h.Write([]byte{0})
	h.Write([]byte(e.Category))
	return h.Sum64()
}

// TestCase is one unit of evaluation work: a set of evidence items diluted
// with filler conversations up to a target context size.
//
// ContextSize is the dilution target; zero means "no explicit target", in
// which case the conversation count is just len(Conversations).
type TestCase struct {
	EvidenceItems []EvidenceItem `json:"evidenceItems"`
	Conversations []Conversation `json:"conversations"`
	ContextSize   int            `json:"contextSize,omitempty"`
}

// ConversationCount returns the effective context size of the case: the
// explicit target when set, the actual conversation count otherwise.
func (t *TestCase) ConversationCount() int {
	if t.ContextSize > 0 {
		return t.ContextSize
	}
	return len(t.Conversations)
}

// ID derives the stable identity of the test case from its evidence items and
// effective context size. Ids must be unique within a run.
func (t *TestCase) ID() string {
	// XOR-combined so the id does not depend on evidence ordering.
	var combined uint64
	for _, e := range t.EvidenceItems {
		combined ^= e.Hash()
	}
	return fmt.Sprintf("%016x_ctx%s", combined, strconv.Itoa(t.ConversationCount()))
}

// EvidenceConversations returns every conversation referenced by the case's
// evidence items, in evidence order.
func (t *TestCase) EvidenceConversations() []Conversation {
	var convs []Conversation
	for _, e := range t.EvidenceItems {
		convs = append(convs, e.Conversations...)
	}
	return convs
}

// EvidenceConversationIDs returns the set of conversation ids that carry
// evidence, used to score retrieval relevance.
func (t *TestCase) EvidenceConversationIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, c := range t.EvidenceConversations() {
		if c.ID != "" {
			ids[c.ID] = struct{}{}
		}
	}
	return ids
}
