package bench

// AnswerResult is what a memory system returns for one question, including
// the token and cost accounting for every LLM call it made along the way.
type AnswerResult struct {
	Answer                   string   `json:"answer,omitempty"`
	RetrievedConversationIDs []string `json:"retrievedConversationIds"`
	InputTokens              int      `json:"inputTokens,omitempty"`
	OutputTokens             int      `json:"outputTokens,omitempty"`
	CachedInputTokens        int      `json:"cachedInputTokens,omitempty"`
	Cost                     float64  `json:"cost,omitempty"`
	MemorySystemResponses    []string `json:"memorySystemResponses"`
}

// ContextTestResult is the judged outcome for one (test case, evidence item)
// pair at a particular context size.
type ContextTestResult struct {
	EvidenceItem                   EvidenceItem `json:"evidenceItem"`
	ContextType                    string       `json:"contextType"`
	ContextSize                    int          `json:"contextSize"`
	ModelAnswer                    string       `json:"modelAnswer"`
	IsCorrect                      bool         `json:"isCorrect"`
	RetrievedRelevantConversations int          `json:"retrievedRelevantConversations"`
}

// EvaluationLogEntry is the durable record written for every judged answer.
// Its JSON shape is a stable contract: re-judge replay depends on it, and
// unknown fields are ignored on read.
type EvaluationLogEntry struct {
	ContextTestResult     ContextTestResult `json:"contextTestResult"`
	AnswerResult          AnswerResult      `json:"answerResult"`
	EvidenceType          string            `json:"evidenceType"`
	MemorySystem          string            `json:"memorySystem"`
	TestCaseGeneratorType string            `json:"testCaseGeneratorType"`
	ResponseTimeMs        int64             `json:"responseTimeMs"`
}
