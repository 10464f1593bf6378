package conversation

// Role values used on messages sent to the generative backend and on
// persisted turns. Multi-party sessions persist participant roles
// (for example "optimist" or "skeptic") that never appear on the wire
// to the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a role/content pair in the shape the generative backend
// expects. It is the unit the window builder emits.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is one prior conversation turn as loaded from storage.
//
// # Description
//
// Turn carries the fields the window builder needs: the role decides
// whether the turn is eligible for resending, and the attached-document
// fields feed the document-recall scan. Reasoning text is never resent
// to the backend and is therefore absent here.
type Turn struct {
	// Role is the persisted role tag (user, assistant, or a
	// multi-party participant role).
	Role string

	// Content is the turn's main text.
	Content string

	// AttachedFileName is the display name of a document attached on
	// this turn, if any.
	AttachedFileName string

	// AttachedFileContext is the extracted text of the attached
	// document, if any.
	AttachedFileContext string
}

// Per-model context ceilings in tokens. Values are conservative: each
// already reserves headroom for the model's own response on top of the
// advertised window.
var modelContextLimits = map[string]int{
	"deepseek-r1:32b":              24000,
	"llama3.3:70b-instruct-q3_K_M": 6000,
	"exaone4.0:32b":                24000,
}

// defaultContextLimit is the fallback ceiling for unrecognized models.
const defaultContextLimit = 4000

// ContextLimit returns the context-window token ceiling for a model.
// Unknown models get the conservative default.
func ContextLimit(model string) int {
	if limit, ok := modelContextLimits[model]; ok {
		return limit
	}
	return defaultContextLimit
}
