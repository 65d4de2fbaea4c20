package model

import (
	"fmt"

	"github.com/valyala/fastjson"
)

// Message is a single chat message as returned by /chat/messages or pushed
// over a conversation channel.
type Message struct {
	ID          int64  `json:"id"`
	SenderID    int64  `json:"sender_id"`
	RecipientID int64  `json:"recipient_id"`
	Body        string `json:"body,omitempty"`
	Attachment  string `json:"attachment,omitempty"`
	CreatedAt   string `json:"created_at"`
	IsRead      bool   `json:"is_read"`

	// Pending marks a locally appended message the server has not confirmed yet.
	Pending bool `json:"-"`
	// ClientKey identifies a pending message that has no server id.
	ClientKey string `json:"-"`
}

// UnmarshalJSON accepts the field spellings used across the backend's chat
// endpoints and push events.
func (m *Message) UnmarshalJSON(data []byte) error {
	return parse(data, func(v *fastjson.Value) error {
		if v.Type() == fastjson.TypeNull {
			return nil
		}
		if v.Type() != fastjson.TypeObject {
			return fmt.Errorf("message: expected object, got %s", v.Type())
		}
		*m = messageFromValue(v)
		return nil
	})
}

func messageFromValue(v *fastjson.Value) Message {
	return Message{
		ID:          int64Field(v, "id"),
		SenderID:    int64Field(v, "sender_id", "user_id", "from_id"),
		RecipientID: int64Field(v, "recipient_id", "to_id"),
		Body:        stringField(v, "body", "text", "message"),
		Attachment:  stringField(v, "attachment", "file"),
		CreatedAt:   stringField(v, "created_at", "createdAt"),
		IsRead:      boolOf(lookup(v, "is_read", "isRead")),
	}
}

// DecodePushMessage decodes a message-delivered event payload. Broadcasters
// either send the message object itself or wrap it under "message".
func DecodePushMessage(data []byte) (Message, error) {
	var msg Message
	err := parse(data, func(v *fastjson.Value) error {
		if v.Type() != fastjson.TypeObject {
			return fmt.Errorf("push payload: expected object, got %s", v.Type())
		}
		if inner := v.Get("message"); inner != nil && inner.Type() == fastjson.TypeObject {
			v = inner
		}
		msg = messageFromValue(v)
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	if msg.ID == 0 {
		return Message{}, fmt.Errorf("push payload: message has no id")
	}
	return msg, nil
}
