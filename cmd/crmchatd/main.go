package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wecrm/crmchat/internal/app"
	"github.com/wecrm/crmchat/internal/daemon"
	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	chatFlag := flag.Int64("chat", 0, "dialog id to keep open")
	typeFlag := flag.Int("type", int(model.ChatPrivate), "chat type of --chat (1 private, 2 project, 3 client, 4 global)")
	debugFlag := flag.Bool("debug", false, "log debug output to stderr")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level := zapcore.InfoLevel
	if *debugFlag {
		level = zapcore.DebugLevel
	}

	fx.New(
		app.Module(app.Params{SessionName: sessionName, Binary: "crmchatd", ConsoleLevel: level}),
		daemon.Module(daemon.Params{
			SessionName:    sessionName,
			ConversationID: *chatFlag,
			ChatType:       model.ChatType(*typeFlag),
		}),
		fx.NopLogger,
	).Run()
}
