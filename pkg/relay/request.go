package relay

// StreamRequest describes one question-answering run against the upstream
// agent. It is immutable for the lifetime of a session.
type StreamRequest struct {
	Question            string   `json:"question"`
	ConversationId      string   `json:"conversationId,omitempty"`
	SessionId           string   `json:"sessionId,omitempty"`
	TopK                int      `json:"topK,omitempty"`
	EnableQueryRewriter bool     `json:"enableQueryRewriter,omitempty"`
	EnabledTools        []string `json:"enabledTools,omitempty"`
	MaxToolRounds       int      `json:"maxToolRounds,omitempty"`
	Temperature         float64  `json:"temperature,omitempty"`
	MaxTokens           int      `json:"maxTokens,omitempty"`
}
