package schema

import (
	"strconv"
	"time"
)

// NodeType selects the executor that runs a node.
type NodeType string

const (
	NodeTypeInitial           NodeType = "INITIAL"
	NodeTypeManualTrigger     NodeType = "MANUAL_TRIGGER"
	NodeTypeGoogleFormTrigger NodeType = "GOOGLE_FORM_TRIGGER"
	NodeTypeStripeTrigger     NodeType = "STRIPE_TRIGGER"
	NodeTypeTelegramTrigger   NodeType = "TELEGRAM_TRIGGER"
	NodeTypeScheduleTrigger   NodeType = "SCHEDULE_TRIGGER"

	NodeTypeHTTPRequest    NodeType = "HTTP_REQUEST"
	NodeTypeGemini         NodeType = "GEMINI"
	NodeTypeOpenAI         NodeType = "OPENAI"
	NodeTypeAnthropic      NodeType = "ANTHROPIC"
	NodeTypeOllama         NodeType = "OLLAMA"
	NodeTypeDiscord        NodeType = "DISCORD"
	NodeTypeSlack          NodeType = "SLACK"
	NodeTypeTelegramAction NodeType = "TELEGRAM_ACTION"
	NodeTypeDelay          NodeType = "DELAY"
)

// IsTrigger reports whether nodes of this type gate a run instead of
// performing an action.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeTypeInitial, NodeTypeManualTrigger, NodeTypeGoogleFormTrigger,
		NodeTypeStripeTrigger, NodeTypeTelegramTrigger, NodeTypeScheduleTrigger:
		return true
	}
	return false
}

// channelNames maps node types to their realtime status channel.
var channelNames = map[NodeType]string{
	NodeTypeInitial:           "manual-trigger-execution",
	NodeTypeManualTrigger:     "manual-trigger-execution",
	NodeTypeGoogleFormTrigger: "google-form-trigger-execution",
	NodeTypeStripeTrigger:     "stripe-trigger-execution",
	NodeTypeTelegramTrigger:   "telegram-trigger-execution",
	NodeTypeScheduleTrigger:   "schedule-trigger-execution",
	NodeTypeHTTPRequest:       "http-request-execution",
	NodeTypeGemini:            "gemini-execution",
	NodeTypeOpenAI:            "openai-execution",
	NodeTypeAnthropic:         "anthropic-execution",
	NodeTypeOllama:            "ollama-execution",
	NodeTypeDiscord:           "discord-execution",
	NodeTypeSlack:             "slack-execution",
	NodeTypeTelegramAction:    "telegram-execution",
	NodeTypeDelay:             "delay-execution",
}

// StatusTopic is the single topic used on every status channel.
const StatusTopic = "status"

// ChannelFor returns the status channel name for a node type.
func ChannelFor(t NodeType) string {
	if name, ok := channelNames[t]; ok {
		return name
	}
	return "node-execution"
}

// IsStatusChannel reports whether name is the status channel of a known
// node type.
func IsStatusChannel(name string) bool {
	for _, ch := range channelNames {
		if ch == name {
			return true
		}
	}
	return false
}

// Workflow owns an ordered set of nodes and the connections between them.
type Workflow struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	UserID      string       `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Nodes       []Node       `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Connections []Connection `json:"connections,omitempty" yaml:"connections,omitempty"`
	CreatedAt   time.Time    `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time    `json:"updated_at" yaml:"-"`
}

// Node is one configured unit of work. Data is opaque to the engine and is
// validated by the executor for Type.
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	WorkflowID string         `json:"workflow_id" yaml:"-"`
	Name       string         `json:"name" yaml:"name"`
	Type       NodeType       `json:"type" yaml:"type"`
	Position   int            `json:"position" yaml:"-"`
	Data       map[string]any `json:"data" yaml:"data"`
	CreatedAt  time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"-"`
}

// OwnerKey is the data key holding a trigger node's bound owner.
const OwnerKey = "ownerUserId"

// OwnerUserID returns the identity bound to this node, or "" when unbound.
func (n Node) OwnerUserID() string {
	if n.Data == nil {
		return ""
	}
	switch v := n.Data[OwnerKey].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Connection is a directed dependency edge: To must not run before From.
type Connection struct {
	ID         string    `json:"id" yaml:"id,omitempty"`
	WorkflowID string    `json:"workflow_id" yaml:"-"`
	FromNodeID string    `json:"from_node_id" yaml:"from"`
	ToNodeID   string    `json:"to_node_id" yaml:"to"`
	FromOutput string    `json:"from_output,omitempty" yaml:"from_output,omitempty"`
	ToInput    string    `json:"to_input,omitempty" yaml:"to_input,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
}

// CredentialType identifies the service a credential authenticates against.
type CredentialType string

const (
	CredentialOpenAI      CredentialType = "OPENAI"
	CredentialAnthropic   CredentialType = "ANTHROPIC"
	CredentialGemini      CredentialType = "GEMINI"
	CredentialTelegramBot CredentialType = "TELEGRAM_BOT"
)

// Credential is a stored secret. Value holds ciphertext and is only
// decrypted at the point of use.
type Credential struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      CredentialType `json:"type"`
	Value     []byte         `json:"-"`
	UserID    string         `json:"user_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
