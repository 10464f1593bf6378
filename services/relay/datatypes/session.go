package datatypes

import (
	"strings"
	"time"

	"github.com/orchid219/relay/services/relay/conversation"
)

// SessionInfo is the wire shape of one chat session.
type SessionInfo struct {
	ID        string    `json:"id"`
	ModelType string    `json:"model_type"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnInfo is the wire shape of one stored turn. The attached document
// text is returned so clients can re-send it as document context when
// resuming a session.
type TurnInfo struct {
	ID                  string    `json:"id"`
	Role                string    `json:"role"`
	Content             string    `json:"content"`
	Reasoning           string    `json:"reasoning,omitempty"`
	AttachedFileName    string    `json:"attached_file_name,omitempty"`
	AttachedFileContext string    `json:"attached_file_context,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// SessionDetail is a session with its full chronological transcript.
// The session fields marshal flat alongside the message list.
type SessionDetail struct {
	SessionInfo
	Messages []TurnInfo `json:"messages"`
}

type CreateSessionRequest struct {
	ModelType string `json:"model_type" validate:"required"`
	Title     string `json:"title"`
}

func (r *CreateSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

type RenameSessionRequest struct {
	Title string `json:"title" validate:"required"`
}

func (r *RenameSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// modelTypes maps a model name prefix to the session type label stored
// on chat_sessions.model_type.
var modelTypes = map[string]string{
	"deepseek-r1":    "deepqwen",
	"llama3.3":       "llama",
	"exaone4.0":      "exaone",
	"translategemma": "gemma",
}

// ModelTypeFor resolves the session type label for a model identifier
// such as "deepseek-r1:32b". Exact match wins, then the name prefix
// before the version tag; unknown models fall back to the prefix
// itself.
func ModelTypeFor(model string) string {
	if t, ok := modelTypes[model]; ok {
		return t
	}
	prefix := model
	if i := strings.Index(model, ":"); i >= 0 {
		prefix = model[:i]
	}
	if t, ok := modelTypes[prefix]; ok {
		return t
	}
	return prefix
}

// ModelTypeDebate marks sessions where two models argue opposite sides
// of a question. Turns in these sessions persist participant roles
// instead of "assistant".
const ModelTypeDebate = "debate"

// debateRoles assigns each debate participant model its persisted role.
var debateRoles = map[string]string{
	"deepseek-r1:32b":              "skeptic",
	"llama3.3:70b-instruct-q3_K_M": "optimist",
}

// DebateRoleFor returns the participant role a model plays in a debate
// session. Models outside the debate pair persist as a plain assistant.
func DebateRoleFor(model string) string {
	if role, ok := debateRoles[model]; ok {
		return role
	}
	return conversation.RoleAssistant
}
