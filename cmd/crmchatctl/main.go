package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wecrm/crmchat/internal/app"
	"github.com/wecrm/crmchat/internal/chatlist"
	"github.com/wecrm/crmchat/internal/config"
	"github.com/wecrm/crmchat/internal/dictionary"
	"github.com/wecrm/crmchat/internal/messages"
	"github.com/wecrm/crmchat/internal/notify"
	"github.com/wecrm/crmchat/internal/session"
	"github.com/wecrm/crmchat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"
)

// deps are the services a command may use.
type deps struct {
	cfg      *config.Config
	db       *store.DB
	messages *messages.Store
	lists    *chatlist.Store
	notify   *notify.Store
	dict     *dictionary.Store
	tasks    *dictionary.Tasks
}

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 15*time.Second, "overall command timeout")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var d deps
	fxApp := fx.New(
		app.Module(app.Params{SessionName: sessionName, Binary: "crmchatctl", ConsoleLevel: zapcore.ErrorLevel}),
		fx.NopLogger,
		fx.Populate(&d.cfg, &d.db, &d.messages, &d.lists, &d.notify, &d.dict, &d.tasks),
	)
	if err := fxApp.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()
	if err := fxApp.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	code := run(ctx, d, sessionName, args, *jsonFlag)
	_ = fxApp.Stop(context.Background())
	os.Exit(code)
}

func run(ctx context.Context, d deps, sessionName string, args []string, jsonOut bool) int {
	var err error
	switch args[0] {
	case "status":
		err = cmdStatus(ctx, d, sessionName, jsonOut)
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: crmchatctl login <hash>")
			return 1
		}
		err = cmdLogin(ctx, d, args[1])
	case "logout":
		err = cmdLogout(ctx, d)
	case "chats":
		bucket := ""
		if len(args) >= 2 {
			bucket = args[1]
		}
		err = cmdChats(ctx, d, bucket, jsonOut)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: crmchatctl messages <dialog_id> [chat_type]")
			return 1
		}
		err = cmdMessages(ctx, d, args[1:], jsonOut)
	case "notifications":
		err = cmdNotifications(ctx, d, jsonOut)
	case "read-all":
		err = cmdReadAll(ctx, d)
	case "tasks":
		err = cmdTasks(ctx, d, jsonOut)
	case "delete-task":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: crmchatctl delete-task <task_id>")
			return 1
		}
		err = cmdDeleteTask(ctx, d, args[1])
	case "dict":
		refresh := len(args) >= 2 && args[1] == "refresh"
		err = cmdDict(ctx, d, refresh, jsonOut)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: crmchatctl [--session <name>] [--json] [--timeout <d>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show session status")
	fmt.Fprintln(os.Stderr, "  login <hash>                 Store the session hash")
	fmt.Fprintln(os.Stderr, "  logout                       Forget the session hash")
	fmt.Fprintln(os.Stderr, "  chats [bucket]               List chats (privateChats, allChats, clientChats, globalChat, projectChats)")
	fmt.Fprintln(os.Stderr, "  messages <dialog_id> [type]  Show a conversation (type: 1 private, 2 project, 3 client, 4 global)")
	fmt.Fprintln(os.Stderr, "  notifications                List notifications")
	fmt.Fprintln(os.Stderr, "  read-all                     Mark all notifications read")
	fmt.Fprintln(os.Stderr, "  tasks                        List tasks")
	fmt.Fprintln(os.Stderr, "  delete-task <task_id>        Delete a task")
	fmt.Fprintln(os.Stderr, "  dict [refresh]               Show the reference dictionary")
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
