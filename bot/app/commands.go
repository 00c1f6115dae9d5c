package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/featurebot/bot/plugins"
	"github.com/m3rciful/featurebot/bot/users"
	"github.com/m3rciful/featurebot/core/logger"
	"github.com/m3rciful/featurebot/core/telegram/state"
)

// command is a bot command bound to the app.
type command struct {
	name        string
	description string
	admin       bool
	run         func(ctx context.Context, conv plugins.Conversation, args []string) error
}

func (a *App) commands() []command {
	return []command{
		{name: "start", description: "Start the bot and show the main menu", run: a.cmdStart},
		{name: "menu", description: "Show the main menu", run: func(ctx context.Context, conv plugins.Conversation, _ []string) error {
			return a.MainMenu(ctx, conv)
		}},
		{name: "help", description: "Show help", run: func(ctx context.Context, conv plugins.Conversation, _ []string) error {
			return conv.Send(a.t(ctx, conv, "help"), nil)
		}},
		{name: "settings", description: "Configure your preferences", run: func(ctx context.Context, conv plugins.Conversation, _ []string) error {
			return a.Settings(ctx, conv, "")
		}},
		{name: "stats", description: "Show your usage statistics", run: func(ctx context.Context, conv plugins.Conversation, _ []string) error {
			return a.Settings(ctx, conv, "stats")
		}},
		{name: "cancel", description: "Cancel the current operation", run: func(ctx context.Context, conv plugins.Conversation, _ []string) error {
			return a.cancelFlow(ctx, conv)
		}},
		{name: "admin", description: "Open the admin panel", admin: true, run: func(ctx context.Context, conv plugins.Conversation, _ []string) error {
			return a.Admin(ctx, conv, "", "")
		}},
		{name: "makeadmin", description: "Grant admin rights", admin: true, run: a.cmdMakeAdmin},
		{name: "removeadmin", description: "Revoke admin rights", admin: true, run: a.cmdRemoveAdmin},
		{name: "reload", description: "Reload a feature handler", admin: true, run: a.cmdReload},
	}
}

// runCommand counts the command and runs it.
func (a *App) runCommand(ctx context.Context, cmd command, conv plugins.Conversation, args []string) error {
	a.usage.Command(cmd.name)
	if err := a.users.Count(ctx, conv.Identity(), users.ActivityCommand); err != nil {
		logger.App.WarnContext(ctx, "command count failed",
			slog.String("event", "users.count"),
			slog.String("err", err.Error()),
		)
	}
	return cmd.run(ctx, conv, args)
}

func (a *App) cmdStart(ctx context.Context, conv plugins.Conversation, _ []string) error {
	if err := conv.Send(a.t(ctx, conv, "welcome", a.cfg.Telegram.BotName), nil); err != nil {
		return err
	}
	return a.MainMenu(ctx, conv)
}

// cancelFlow leaves any pending conversation step.
func (a *App) cancelFlow(ctx context.Context, conv plugins.Conversation) error {
	id := conv.Identity()
	st := a.states.GetState(id)
	_, pendingBroadcast := a.states.GetTemp(id, tempBroadcast)
	a.states.Clear(id)

	switch st {
	case StateTemplateInfo, StateAIDescription, StateCustomInfo, StateCustomCode:
		return conv.Send("Feature generation cancelled.", plugins.Keyboard{adminBack()})
	case StateJSONImport:
		return conv.Send("Feature import cancelled.", plugins.Keyboard{adminBack()})
	case StateBroadcast:
		return conv.Send("❌ Broadcast cancelled.", plugins.Keyboard{adminBack()})
	case state.StateIdle:
		if pendingBroadcast {
			return conv.Send("❌ Broadcast cancelled.", plugins.Keyboard{adminBack()})
		}
		return conv.Send(a.t(ctx, conv, "cancel.nothing"), nil)
	}
	return conv.Send(a.t(ctx, conv, "cancel.done"), nil)
}

func parseUserID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// targetUser resolves the user a /makeadmin or /removeadmin names.
func (a *App) targetUser(ctx context.Context, conv plugins.Conversation, args []string, usage string) (users.User, bool, error) {
	id, ok := parseUserID(args)
	if !ok {
		return users.User{}, false, conv.Send("❌ Please provide a valid user ID. Usage: "+usage, nil)
	}
	u, err := a.users.Get(ctx, id)
	if errors.Is(err, users.ErrNotFound) {
		return u, false, conv.Send(fmt.Sprintf("❌ User with ID %d not found.", id), nil)
	}
	return u, err == nil, err
}

func (a *App) notify(ctx context.Context, id int64, text string) {
	n := a.currentNotifier()
	if n == nil {
		return
	}
	if err := n.Notify(ctx, id, text); err != nil {
		logger.App.WarnContext(ctx, "notification failed",
			slog.String("event", "app.notify"),
			slog.Int64("user_id", id),
			slog.String("err", err.Error()),
		)
	}
}

func (a *App) cmdMakeAdmin(ctx context.Context, conv plugins.Conversation, args []string) error {
	u, ok, err := a.targetUser(ctx, conv, args, "/makeadmin 123456789")
	if !ok {
		return err
	}
	name := escape(u.FirstName)
	if a.users.IsAdmin(u.ID) {
		return conv.Send(fmt.Sprintf("❌ User %s (%d) is already an admin.", name, u.ID), nil)
	}
	if _, err := a.users.SetAdmin(ctx, u.ID, true); err != nil {
		return err
	}
	logger.App.InfoContext(ctx, "admin granted",
		slog.String("event", "admin.grant"),
		slog.Int64("user_id", u.ID),
		slog.Int64("by", conv.Identity()),
	)
	if err := conv.Send(fmt.Sprintf("✅ User %s (%d) is now an admin.", name, u.ID), nil); err != nil {
		return err
	}
	a.notify(ctx, u.ID, fmt.Sprintf("🎉 Congratulations! You have been granted admin privileges for %s. Use /admin to access the admin panel.",
		escape(a.cfg.Telegram.BotName)))
	return nil
}

func (a *App) cmdRemoveAdmin(ctx context.Context, conv plugins.Conversation, args []string) error {
	u, ok, err := a.targetUser(ctx, conv, args, "/removeadmin 123456789")
	if !ok {
		return err
	}
	name := escape(u.FirstName)
	switch {
	case !a.users.IsAdmin(u.ID):
		return conv.Send(fmt.Sprintf("❌ User %s (%d) is not an admin.", name, u.ID), nil)
	case u.ID == conv.Identity():
		return conv.Send("❌ You cannot remove yourself as admin.", nil)
	case a.users.IsConfigAdmin(u.ID):
		return conv.Send(fmt.Sprintf("❌ User %s (%d) is listed in the configuration and cannot be removed here.", name, u.ID), nil)
	}
	if _, err := a.users.SetAdmin(ctx, u.ID, false); err != nil {
		return err
	}
	logger.App.InfoContext(ctx, "admin revoked",
		slog.String("event", "admin.revoke"),
		slog.Int64("user_id", u.ID),
		slog.Int64("by", conv.Identity()),
	)
	if err := conv.Send(fmt.Sprintf("✅ Admin privileges removed from user %s (%d).", name, u.ID), nil); err != nil {
		return err
	}
	a.notify(ctx, u.ID, fmt.Sprintf("ℹ️ Your admin privileges for %s have been removed.", escape(a.cfg.Telegram.BotName)))
	return nil
}

func (a *App) cmdReload(ctx context.Context, conv plugins.Conversation, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return conv.Send("❌ Please provide a feature ID. Usage: /reload weather", nil)
	}
	return a.adminReloadFeature(ctx, conv, strings.TrimSpace(args[0]))
}
