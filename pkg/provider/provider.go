// Package provider defines the LLM provider interface, the shared message
// types, the error taxonomy and the registry that owns provider instances.
package provider

import "context"

// Role identifies the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single turn of a conversation. Ordering within a conversation
// is significant and is preserved by every adapter.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is one element of a streaming response. A chunk with a non-nil
// Err is always the last value sent before the channel is closed.
type StreamChunk struct {
	Text string
	Err  error
}

// ModelInfo is static descriptive metadata about a provider instance.
type ModelInfo struct {
	Provider     string   `json:"provider" yaml:"provider"`
	Model        string   `json:"model" yaml:"model"`
	Type         string   `json:"type" yaml:"type"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	MaxTokens    int      `json:"max_tokens" yaml:"max_tokens"`
	Configured   bool     `json:"configured" yaml:"configured"`
}

// Provider is the interface that all LLM backends must implement.
// Implementations must be safe for concurrent use once constructed.
type Provider interface {
	// Name returns the registry identifier for this provider (e.g. "gemini").
	Name() string

	// Chat submits the full conversation and blocks until the complete
	// answer is available. Errors are always classified (see Classify).
	Chat(ctx context.Context, conv []Message) (string, error)

	// ChatStream submits the conversation and returns a channel of non-empty
	// text fragments that concatenate to the answer Chat would return. The
	// channel is closed when the stream finishes, fails or ctx is cancelled.
	// Every call re-issues the upstream request.
	ChatStream(ctx context.Context, conv []Message) (<-chan StreamChunk, error)

	// ValidateConfiguration performs a synchronous self-check. It returns nil
	// when the provider is usable and a configuration error otherwise.
	ValidateConfiguration() error

	// ModelInfo returns static metadata. It has no side effects.
	ModelInfo() ModelInfo
}

// placeholderAPIKey is the default credential shipped in configuration. It is
// treated the same as a missing key.
const placeholderAPIKey = "test-model-key"

func apiKeyConfigured(key string) bool {
	return key != "" && key != placeholderAPIKey
}
