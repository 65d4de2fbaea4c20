package model

import (
	"fmt"

	"github.com/valyala/fastjson"
)

// Notification is a single pending notification.
type Notification struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Photo string `json:"photo,omitempty"`
}

// NotificationBundle is the /notifications payload.
type NotificationBundle struct {
	Notifications []Notification `json:"notification"`
	UnreadCount   int            `json:"unread_count"`
}

// UnmarshalJSON accepts both the "notification"/"totalNew" and the
// "notifications"/"unread_count" spellings.
func (n *NotificationBundle) UnmarshalJSON(data []byte) error {
	return parse(data, func(v *fastjson.Value) error {
		if v.Type() == fastjson.TypeNull {
			return nil
		}
		if v.Type() != fastjson.TypeObject {
			return fmt.Errorf("notifications: expected object, got %s", v.Type())
		}
		out := NotificationBundle{
			Notifications: []Notification{},
			UnreadCount:   int(int64Field(v, "unread_count", "totalNew")),
		}
		if list := lookup(v, "notification", "notifications"); list != nil {
			items, err := list.Array()
			if err != nil {
				return fmt.Errorf("notifications: %w", err)
			}
			for _, it := range items {
				out.Notifications = append(out.Notifications, Notification{
					ID:    int64Field(it, "id"),
					Name:  stringField(it, "name"),
					Photo: stringField(it, "photo"),
				})
			}
		}
		*n = out
		return nil
	})
}
