package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wecrm/crmchat/internal/datefmt"
	"github.com/wecrm/crmchat/internal/lock"
	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/session"
	"github.com/wecrm/crmchat/internal/store"
)

type statusView struct {
	Session       string `json:"session"`
	DaemonRunning bool   `json:"daemon_running"`
	DaemonPID     int    `json:"daemon_pid,omitempty"`
	DaemonSince   string `json:"daemon_since,omitempty"`
	Authenticated bool   `json:"authenticated"`
	APIBaseURL    string `json:"api_base_url"`
	TokenSet      bool   `json:"api_token_set"`
	PushEndpoint  string `json:"push_endpoint"`
}

func cmdStatus(ctx context.Context, d deps, sessionName string, jsonOut bool) error {
	v := statusView{
		Session:      sessionName,
		APIBaseURL:   d.cfg.API.BaseURL,
		TokenSet:     d.cfg.API.Token != "",
		PushEndpoint: fmt.Sprintf("%s:%d", d.cfg.Push.Host, d.cfg.Push.Port),
	}
	info, err := lock.Inspect(session.Dir(sessionName))
	if err != nil {
		return err
	}
	if info != nil {
		v.DaemonRunning = true
		v.DaemonPID = info.PID
		if !info.Started.IsZero() {
			v.DaemonSince = info.Started.Format(time.RFC3339)
		}
	}
	if _, err := d.db.Hash(ctx); err == nil {
		v.Authenticated = true
	} else if !errors.Is(err, store.ErrNoCredential) {
		return err
	}

	if jsonOut {
		outputJSON(v)
		return nil
	}
	fmt.Printf("Session: %s\n", v.Session)
	if v.DaemonRunning {
		fmt.Printf("Daemon:  running (pid %d, since %s)\n", v.DaemonPID, v.DaemonSince)
	} else {
		fmt.Println("Daemon:  stopped")
	}
	if v.Authenticated {
		fmt.Println("Auth:    hash stored")
	} else {
		fmt.Println("Auth:    required (crmchatctl login <hash>)")
	}
	fmt.Printf("API:     %s (token set: %v)\n", v.APIBaseURL, v.TokenSet)
	fmt.Printf("Push:    %s\n", v.PushEndpoint)
	return nil
}

func cmdLogin(ctx context.Context, d deps, hash string) error {
	if err := d.db.SetHash(ctx, hash); err != nil {
		return err
	}
	fmt.Println("Hash stored.")
	return nil
}

func cmdLogout(ctx context.Context, d deps) error {
	if err := d.db.ClearHash(ctx); err != nil {
		return err
	}
	fmt.Println("Hash removed.")
	return nil
}

func cmdChats(ctx context.Context, d deps, bucket string, jsonOut bool) error {
	buckets := d.lists.Fetch(ctx)
	if msg := d.lists.Err(); msg != "" {
		return errors.New(msg)
	}

	names := model.Buckets
	if bucket != "" {
		if buckets.Get(model.Bucket(bucket)) == nil {
			return fmt.Errorf("unknown bucket %q", bucket)
		}
		names = []model.Bucket{model.Bucket(bucket)}
	}

	if jsonOut {
		if bucket != "" {
			outputJSON(buckets.Get(model.Bucket(bucket)))
		} else {
			outputJSON(buckets)
		}
		return nil
	}

	now := time.Now()
	unread := d.lists.Unread()
	for _, name := range names {
		list := buckets.Get(name)
		fmt.Printf("%s (%d, unread %d)\n", name, len(list), unread.Buckets[name])
		for _, c := range list {
			fmt.Printf("  %-8d %-30s %-9s %3d  %s\n",
				c.DialogID, c.ChatName, datefmt.Short(c.LastMessageAt, now), c.UnreadCount, c.LastMessage)
		}
	}
	fmt.Printf("Total unread: %d\n", unread.Total)
	return nil
}

func cmdMessages(ctx context.Context, d deps, args []string, jsonOut bool) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid dialog id %q", args[0])
	}
	chatType := model.ChatPrivate
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid chat type %q", args[1])
		}
		chatType = model.ChatType(n)
	}

	msgs, err := d.messages.Fetch(ctx, id, chatType)
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(msgs)
		return nil
	}

	names := map[int64]string{}
	if dict, err := d.dict.Get(ctx); err == nil {
		for _, u := range dict.Users {
			names[u.ID] = u.FullName
		}
	}
	now := time.Now()
	locale := datefmt.ParseLocale(d.cfg.Locale)
	for _, m := range msgs {
		sender := names[m.SenderID]
		if sender == "" {
			sender = strconv.FormatInt(m.SenderID, 10)
		}
		body := m.Body
		if m.Attachment != "" {
			body += " [" + m.Attachment + "]"
		}
		fmt.Printf("%-12s %s: %s\n", datefmt.Localized(m.CreatedAt, now, locale), sender, body)
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
	}
	return nil
}

func cmdNotifications(ctx context.Context, d deps, jsonOut bool) error {
	bundle := d.notify.Fetch(ctx)
	if bundle == nil {
		return errors.New(d.notify.Err())
	}
	if jsonOut {
		outputJSON(bundle)
		return nil
	}
	fmt.Printf("Unread: %d\n", bundle.UnreadCount)
	for _, n := range bundle.Notifications {
		fmt.Printf("  %-8d %s\n", n.ID, n.Name)
	}
	return nil
}

func cmdReadAll(ctx context.Context, d deps) error {
	d.notify.MarkAllRead(ctx)
	if msg := d.notify.Err(); msg != "" {
		return errors.New(msg)
	}
	fmt.Println("All notifications marked read.")
	return nil
}

func cmdTasks(ctx context.Context, d deps, jsonOut bool) error {
	tasks, err := d.tasks.Fetch(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(tasks)
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("  %-8d %-40s %s\n", t.ID, t.Title, taskRange(t))
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
	}
	return nil
}

// taskRange renders a task's schedule, falling back to the raw strings
// when they do not parse.
func taskRange(t model.Task) string {
	start := datefmt.Parse(t.StartAt, nil)
	if !start.Parsed() {
		return t.StartAt
	}
	var end time.Time
	if t.FinishAt != nil {
		if ts := datefmt.Parse(*t.FinishAt, nil); ts.Parsed() {
			end = ts.Time
		}
	}
	return datefmt.Range(start.Time, end)
}

func cmdDeleteTask(ctx context.Context, d deps, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q", arg)
	}
	if err := d.tasks.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Task %d deleted.\n", id)
	return nil
}

type dictView struct {
	User     model.User `json:"user"`
	Users    int        `json:"users"`
	Projects int        `json:"projects"`
	Clients  int        `json:"clients"`
	Tasks    int        `json:"tasks"`
}

func cmdDict(ctx context.Context, d deps, refresh bool, jsonOut bool) error {
	get := d.dict.Get
	if refresh {
		get = d.dict.Refetch
	}
	dict, err := get(ctx)
	if err != nil {
		return err
	}
	v := dictView{
		User:     dict.User,
		Users:    len(dict.Users),
		Projects: len(dict.Projects),
		Clients:  len(dict.Clients),
		Tasks:    len(dict.Tasks),
	}
	if jsonOut {
		outputJSON(v)
		return nil
	}
	fmt.Printf("User:     %s (id %d)\n", v.User.FullName, v.User.ID)
	fmt.Printf("Users:    %d\n", v.Users)
	fmt.Printf("Projects: %d\n", v.Projects)
	fmt.Printf("Clients:  %d\n", v.Clients)
	fmt.Printf("Tasks:    %d\n", v.Tasks)
	return nil
}
