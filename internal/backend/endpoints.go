package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wecrm/crmchat/internal/model"
)

// ChatMessages returns the history page of one conversation.
func (c *Client) ChatMessages(ctx context.Context, hash string, chatID int64, chatType model.ChatType) ([]model.Message, error) {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))
	q.Set("chat_type", strconv.Itoa(int(chatType)))

	var out []model.Message
	if err := c.do(ctx, http.MethodGet, "/chat/messages", hash, q, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Message{}
	}
	return out, nil
}

// ChatList returns the five chat list buckets.
func (c *Client) ChatList(ctx context.Context, hash string) (model.ChatBuckets, error) {
	var out model.ChatBuckets
	if err := c.do(ctx, http.MethodGet, "/chat/list", hash, nil, nil, &out); err != nil {
		return model.EmptyBuckets(), err
	}
	return out.Normalize(), nil
}

// Dictionaries returns the reference snapshot.
func (c *Client) Dictionaries(ctx context.Context, hash string) (*model.Dictionary, error) {
	var out model.Dictionary
	if err := c.do(ctx, http.MethodGet, "/dictionaries", hash, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notifications returns the pending notification bundle.
func (c *Client) Notifications(ctx context.Context, hash string) (*model.NotificationBundle, error) {
	out := model.NotificationBundle{Notifications: []model.Notification{}}
	if err := c.do(ctx, http.MethodGet, "/notifications", hash, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkNotificationsRead marks every notification as read on the server.
func (c *Client) MarkNotificationsRead(ctx context.Context, hash string) error {
	return c.do(ctx, http.MethodPost, "/notifications/read", hash, nil, nil, nil)
}

// Tasks returns the user's task list.
func (c *Client) Tasks(ctx context.Context, hash string) ([]model.Task, error) {
	var out []model.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", hash, nil, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Task{}
	}
	return out, nil
}

// DeleteTask deletes a task by id.
func (c *Client) DeleteTask(ctx context.Context, hash string, taskID int64) error {
	body := struct {
		TaskID int64 `json:"task_id"`
	}{TaskID: taskID}
	return c.do(ctx, http.MethodPost, "/task/delete", hash, nil, body, nil)
}
