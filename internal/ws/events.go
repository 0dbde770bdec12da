package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"inboxsync/internal/models"
	"time"
)

// Inbound event names.
const (
	EventConnectionConfirmed = "connectionConfirmed"
	EventForceDisconnect     = "forceDisconnect"
	EventJoinedConversation  = "joinedConversation"
	EventReceiveMessage      = "receiveMessage"
	EventMessageRead         = "messageRead"
	EventClientValidation    = "clientValidation"
	EventServerStats         = "serverStats"
	EventError               = "error"
)

// Outbound event names.
const (
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventSendMessage       = "sendMessageToConversation"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMalformedEvent = errors.New("malformed event")
)

// Frame is the JSON envelope of every push channel message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Event is implemented by every decoded inbound event.
type Event interface {
	EventName() string
}

type ConnectionConfirmed struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

type ForceDisconnect struct {
	Reason string `json:"reason"`
}

type JoinedConversation struct {
	ConversationID models.ConversationID `json:"conversationId"`
	UserID         string                `json:"userId"`
}

type ReceiveMessage struct {
	Message models.Message
}

type MessageRead struct {
	ConversationID models.ConversationID `json:"conversationId"`
	MessageID      models.MessageID      `json:"messageId"`
	UserID         string                `json:"userId"`
	ReadAt         time.Time             `json:"readAt,omitzero"`
}

type ClientValidation struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

type ServerStats struct {
	ConnectedClients int `json:"connectedClients"`
	Rooms            int `json:"rooms"`
}

type ServerError struct {
	Message string `json:"message"`
}

func (ConnectionConfirmed) EventName() string { return EventConnectionConfirmed }
func (ForceDisconnect) EventName() string     { return EventForceDisconnect }
func (JoinedConversation) EventName() string  { return EventJoinedConversation }
func (ReceiveMessage) EventName() string      { return EventReceiveMessage }
func (MessageRead) EventName() string         { return EventMessageRead }
func (ClientValidation) EventName() string    { return EventClientValidation }
func (ServerStats) EventName() string         { return EventServerStats }
func (ServerError) EventName() string         { return EventError }

// decodeEvent validates a frame and turns it into a typed event.
func decodeEvent(f Frame) (Event, error) {
	switch f.Event {
	case EventConnectionConfirmed:
		return decodeInto[ConnectionConfirmed](f)
	case EventForceDisconnect:
		return decodeInto[ForceDisconnect](f)
	case EventJoinedConversation:
		return decodeInto[JoinedConversation](f)
	case EventMessageRead:
		return decodeInto[MessageRead](f)
	case EventClientValidation:
		return decodeInto[ClientValidation](f)
	case EventServerStats:
		return decodeInto[ServerStats](f)
	case EventError:
		// Some servers send the error as a bare string.
		var text string
		if err := json.Unmarshal(f.Data, &text); err == nil {
			return ServerError{Message: text}, nil
		}
		return decodeInto[ServerError](f)
	case EventReceiveMessage:
		var m models.Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, f.Event, err)
		}
		if m.ID == "" || m.ConversationID == 0 {
			return nil, fmt.Errorf("%w: %s: missing message or conversation id", ErrMalformedEvent, f.Event)
		}
		if m.ContentType == "" {
			m.ContentType = models.ContentTypeText
		}
		if !m.ContentType.Valid() {
			return nil, fmt.Errorf("%w: %s: content type %q", ErrMalformedEvent, f.Event, m.ContentType)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		return ReceiveMessage{Message: m}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

func decodeInto[T Event](f Frame) (Event, error) {
	var ev T
	if len(f.Data) == 0 {
		return ev, nil
	}
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, f.Event, err)
	}
	return ev, nil
}

type roomPayload struct {
	ConversationID models.ConversationID `json:"conversationId"`
	UserID         string                `json:"userId"`
}

// OutgoingMessage is the payload of a send intent.
type OutgoingMessage struct {
	ConversationID models.ConversationID `json:"conversationId"`
	Content        string                `json:"content"`
	SenderID       string                `json:"senderId"`
	ContentType    models.ContentType    `json:"messageType"`
	Attachments    []string              `json:"attachments,omitempty"`
	ClientTempID   string                `json:"clientTempId"`
}
