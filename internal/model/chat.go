package model

import (
	"fmt"

	"github.com/valyala/fastjson"
)

// ChatType tells the backend which chat semantics to apply to a conversation.
type ChatType int

const (
	ChatPrivate ChatType = 1
	ChatProject ChatType = 2
	ChatClient  ChatType = 3
	ChatGlobal  ChatType = 4
)

func (t ChatType) String() string {
	switch t {
	case ChatPrivate:
		return "private"
	case ChatProject:
		return "project"
	case ChatClient:
		return "client"
	case ChatGlobal:
		return "global"
	}
	return fmt.Sprintf("ChatType(%d)", int(t))
}

// Conversation identifies an open dialog.
type Conversation struct {
	ID   int64
	Type ChatType
}

// ConversationSummary is one entry of a chat list bucket.
type ConversationSummary struct {
	ChatName      string `json:"chat_name"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt string `json:"last_message_at"`
	UnreadCount   int    `json:"unread_count"`
	DialogID      int64  `json:"dialog_id"`
}

// UnmarshalJSON normalizes the private/client/project summary shapes into a
// single ConversationSummary.
func (c *ConversationSummary) UnmarshalJSON(data []byte) error {
	return parse(data, func(v *fastjson.Value) error {
		if v.Type() == fastjson.TypeNull {
			return nil
		}
		if v.Type() != fastjson.TypeObject {
			return fmt.Errorf("chat summary: expected object, got %s", v.Type())
		}
		name := stringField(v, "chat_name", "project_name")
		if name == "" {
			name = stringOf(v.Get("client", "full_name"))
		}
		unread := int(int64Field(v, "unread_count", "total_new_messages", "totalNew"))
		if unread < 0 {
			unread = 0
		}
		*c = ConversationSummary{
			ChatName:      name,
			LastMessage:   stringField(v, "last_message", "lastMessage"),
			LastMessageAt: stringField(v, "last_message_at", "lastMessageAt"),
			UnreadCount:   unread,
			DialogID:      int64Field(v, "dialog_id", "id"),
		}
		return nil
	})
}

// Bucket names one of the chat list categories.
type Bucket string

const (
	BucketPrivate Bucket = "privateChats"
	BucketAll     Bucket = "allChats"
	BucketClient  Bucket = "clientChats"
	BucketGlobal  Bucket = "globalChat"
	BucketProject Bucket = "projectChats"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{BucketPrivate, BucketAll, BucketClient, BucketGlobal, BucketProject}

// ChatBuckets is the /chat/list payload. Buckets are independent views; a
// dialog may be listed in several of them.
type ChatBuckets struct {
	PrivateChats []ConversationSummary `json:"privateChats"`
	AllChats     []ConversationSummary `json:"allChats"`
	ClientChats  []ConversationSummary `json:"clientChats"`
	GlobalChat   []ConversationSummary `json:"globalChat"`
	ProjectChats []ConversationSummary `json:"projectChats"`
}

// EmptyBuckets returns buckets with every category present and empty.
func EmptyBuckets() ChatBuckets {
	return ChatBuckets{}.Normalize()
}

// Normalize replaces missing buckets with empty slices.
func (b ChatBuckets) Normalize() ChatBuckets {
	if b.PrivateChats == nil {
		b.PrivateChats = []ConversationSummary{}
	}
	if b.AllChats == nil {
		b.AllChats = []ConversationSummary{}
	}
	if b.ClientChats == nil {
		b.ClientChats = []ConversationSummary{}
	}
	if b.GlobalChat == nil {
		b.GlobalChat = []ConversationSummary{}
	}
	if b.ProjectChats == nil {
		b.ProjectChats = []ConversationSummary{}
	}
	return b
}

// Get returns the named bucket.
func (b ChatBuckets) Get(name Bucket) []ConversationSummary {
	switch name {
	case BucketPrivate:
		return b.PrivateChats
	case BucketAll:
		return b.AllChats
	case BucketClient:
		return b.ClientChats
	case BucketGlobal:
		return b.GlobalChat
	case BucketProject:
		return b.ProjectChats
	}
	return nil
}
