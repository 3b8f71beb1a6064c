// ABOUTME: Activity wire model exchanged between the channel gateway and hosted agents
// ABOUTME: Covers the fields the dispatcher, router and sign-in flows actually read or write

package activity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Activity types understood by the host.
const (
	TypeMessage            = "message"
	TypeTyping             = "typing"
	TypeInvoke             = "invoke"
	TypeInvokeResponse     = "invokeResponse"
	TypeConversationUpdate = "conversationUpdate"
	TypeEvent              = "event"
	TypeEndOfConversation  = "endOfConversation"
)

// Delivery modes a channel may request on an inbound activity.
const (
	DeliveryModeNormal        = "normal"
	DeliveryModeExpectReplies = "expectReplies"
)

// Roles carried on ChannelAccount.Role.
const (
	RoleUser               = "user"
	RoleBot                = "bot"
	RoleAgenticAppInstance = "agenticAppInstance"
	RoleAgenticUser        = "agenticUser"
)

// ChannelAccount identifies a participant on a channel.
type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	AadObjectID string `json:"aadObjectId,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// Attachment is an opaque card or file attached to a message.
type Attachment struct {
	ContentType string `json:"contentType"`
	ContentURL  string `json:"contentUrl,omitempty"`
	Content     any    `json:"content,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Activity is one message or event exchanged with a channel.
type Activity struct {
	Type           string               `json:"type"`
	ID             string               `json:"id,omitempty"`
	Timestamp      *time.Time           `json:"timestamp,omitempty"`
	ServiceURL     string               `json:"serviceUrl,omitempty"`
	ChannelID      string               `json:"channelId,omitempty"`
	From           *ChannelAccount      `json:"from,omitempty"`
	Recipient      *ChannelAccount      `json:"recipient,omitempty"`
	Conversation   *ConversationAccount `json:"conversation,omitempty"`
	ReplyToID      string               `json:"replyToId,omitempty"`
	Text           string               `json:"text,omitempty"`
	TextFormat     string               `json:"textFormat,omitempty"`
	Locale         string               `json:"locale,omitempty"`
	Name           string               `json:"name,omitempty"`
	Value          json.RawMessage      `json:"value,omitempty"`
	DeliveryMode   string               `json:"deliveryMode,omitempty"`
	MembersAdded   []ChannelAccount     `json:"membersAdded,omitempty"`
	MembersRemoved []ChannelAccount     `json:"membersRemoved,omitempty"`
	Attachments    []Attachment         `json:"attachments,omitempty"`
	ChannelData    json.RawMessage      `json:"channelData,omitempty"`
}

// InvokeResponse is the payload of an invokeResponse activity's value.
type InvokeResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// ExpectedReplies is the response body for expectReplies delivery.
type ExpectedReplies struct {
	Activities []*Activity `json:"activities"`
}

// ConversationReference captures where a reply to an activity must go.
type ConversationReference struct {
	ActivityID   string               `json:"activityId,omitempty"`
	User         *ChannelAccount      `json:"user,omitempty"`
	Agent        *ChannelAccount      `json:"agent,omitempty"`
	Conversation *ConversationAccount `json:"conversation"`
	ChannelID    string               `json:"channelId"`
	ServiceURL   string               `json:"serviceUrl"`
	Locale       string               `json:"locale,omitempty"`
}

// NewMessage creates a message activity with the given text.
func NewMessage(text string) *Activity {
	return &Activity{Type: TypeMessage, Text: text}
}

// NewTyping creates a typing indicator activity.
func NewTyping() *Activity {
	return &Activity{Type: TypeTyping}
}

// NewInvokeResponse creates an invokeResponse activity carrying status and a JSON-encoded body.
func NewInvokeResponse(status int, body any) (*Activity, error) {
	resp := InvokeResponse{Status: status}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding invoke response body: %w", err)
		}
		resp.Body = raw
	}
	value, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encoding invoke response: %w", err)
	}
	return &Activity{Type: TypeInvokeResponse, Value: value}, nil
}

// InvokeResponse decodes the value of an invokeResponse activity.
func (a *Activity) InvokeResponse() (*InvokeResponse, error) {
	if a.Type != TypeInvokeResponse {
		return nil, fmt.Errorf("activity type %q is not %s", a.Type, TypeInvokeResponse)
	}
	var resp InvokeResponse
	if len(a.Value) > 0 {
		if err := json.Unmarshal(a.Value, &resp); err != nil {
			return nil, fmt.Errorf("decoding invoke response: %w", err)
		}
	}
	return &resp, nil
}

// EffectiveDeliveryMode returns the delivery mode, defaulting to normal.
func (a *Activity) EffectiveDeliveryMode() string {
	if a.DeliveryMode == "" {
		return DeliveryModeNormal
	}
	return a.DeliveryMode
}

// IsAgentic reports whether the activity was addressed to an agentic identity.
func (a *Activity) IsAgentic() bool {
	if a.Recipient == nil {
		return false
	}
	return a.Recipient.Role == RoleAgenticAppInstance || a.Recipient.Role == RoleAgenticUser
}

// ConversationID returns the conversation id or "" when absent.
func (a *Activity) ConversationID() string {
	if a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}

// UserID returns the sender id or "" when absent.
func (a *Activity) UserID() string {
	if a.From == nil {
		return ""
	}
	return a.From.ID
}

// Reference returns the conversation reference for replying to this activity.
func (a *Activity) Reference() ConversationReference {
	return ConversationReference{
		ActivityID:   a.ID,
		User:         a.From,
		Agent:        a.Recipient,
		Conversation: a.Conversation,
		ChannelID:    a.ChannelID,
		ServiceURL:   a.ServiceURL,
		Locale:       a.Locale,
	}
}

// ApplyReference addresses the activity as a reply within ref.
// Fields already set on the activity are left alone.
func (a *Activity) ApplyReference(ref ConversationReference) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.ChannelID == "" {
		a.ChannelID = ref.ChannelID
	}
	if a.ServiceURL == "" {
		a.ServiceURL = ref.ServiceURL
	}
	if a.Conversation == nil {
		a.Conversation = ref.Conversation
	}
	if a.From == nil {
		a.From = ref.Agent
	}
	if a.Recipient == nil {
		a.Recipient = ref.User
	}
	if a.ReplyToID == "" {
		a.ReplyToID = ref.ActivityID
	}
	if a.Locale == "" {
		a.Locale = ref.Locale
	}
}

// Clone returns a deep copy via JSON round trip.
func (a *Activity) Clone() (*Activity, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding activity: %w", err)
	}
	var out Activity
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding activity: %w", err)
	}
	return &out, nil
}
