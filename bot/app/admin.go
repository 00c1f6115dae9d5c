package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/m3rciful/featurebot/bot/dispatch"
	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/bot/plugins"
	"github.com/m3rciful/featurebot/bot/settings"
	"github.com/m3rciful/featurebot/bot/usage"
	"github.com/m3rciful/featurebot/core/buildinfo"
	"github.com/m3rciful/featurebot/core/logger"
	"github.com/m3rciful/featurebot/core/telegram/state"
)

const (
	backToAdmin     = "🔙 Back to Admin"
	recentUsers     = 5
	topEntries      = 5
	logTailLines    = 10
	logTailMaxBytes = 16 << 10
)

// Temp keys kept in the FSM session.
const tempBroadcast = "pending_broadcast"

// StateBroadcast waits for the text of a broadcast.
const StateBroadcast state.State = "awaiting_broadcast"

func adminBack() []plugins.Button { return row(btn(backToAdmin, "admin")) }

func adminPanel() plugins.Keyboard {
	return plugins.Keyboard{
		row(btn("👥 User Management", "admin:users"), btn("📊 Analytics", "admin:analytics")),
		row(btn("⚙️ Bot Settings", "admin:bot_settings"), btn("🔄 System Status", "admin:system_status")),
		row(btn("✨ Add New Feature", "admin:add_feature"), btn("🔧 Edit Features", "admin:edit_features")),
		row(btn("📝 Logs", "admin:logs"), btn("🚀 Broadcast", "admin:broadcast")),
		row(btn("🔙 Back to Main Menu", "main_menu")),
	}
}

func generatorMenu() plugins.Keyboard {
	return plugins.Keyboard{
		row(btn("✨ Create from Template", "feature_gen:template"), btn("🤖 AI-Assisted Creation", "feature_gen:ai")),
		row(btn("📋 Import from JSON", "feature_gen:import"), btn("📝 Custom Code", "feature_gen:custom")),
		row(btn("🔙 Back to Admin Menu", "admin")),
	}
}

// Admin renders the admin panel and runs admin operations. The router has
// already checked admin rights.
func (a *App) Admin(ctx context.Context, conv plugins.Conversation, option, arg string) error {
	switch option {
	case "":
		return present(conv, "🔧 *Admin Panel*\n\nWelcome to the admin panel. Select an option:", adminPanel())
	case "users":
		return a.adminUsers(ctx, conv)
	case "analytics":
		return a.adminAnalytics(conv)
	case "bot_settings":
		return a.adminBotSettings(conv)
	case "system_status":
		return a.adminSystemStatus(ctx, conv)
	case "logs":
		return a.adminLogs(conv)
	case "add_feature":
		return present(conv, "✨ *Add New Feature*\n\nSelect a method to create a new feature:", generatorMenu())
	case "edit_features":
		return a.adminEditFeatures(ctx, conv)
	case "broadcast":
		a.states.ClearTemp(conv.Identity(), tempBroadcast)
		a.states.SetState(conv.Identity(), StateBroadcast)
		return present(conv, "📣 *Broadcast Message*\n\nSend the message you want to deliver to all users. "+
			"You can use Markdown formatting.\n\nUse /cancel to abort.", plugins.Keyboard{adminBack()})
	case "broadcast_confirm":
		return a.broadcastConfirm(ctx, conv)
	case "broadcast_cancel":
		a.states.ClearTemp(conv.Identity(), tempBroadcast)
		a.states.ClearState(conv.Identity())
		return present(conv, "❌ Broadcast cancelled.", plugins.Keyboard{adminBack()})
	}

	if arg == "" {
		return conv.Answer(fmt.Sprintf("Unknown admin option: %s", option), true)
	}
	switch option {
	case "edit_feature":
		return a.adminEditFeature(ctx, conv, arg)
	case "toggle_feature":
		return a.adminToggleFeature(ctx, conv, arg)
	case "delete_feature":
		return a.adminDeleteFeature(ctx, conv, arg)
	case "delete_confirm":
		return a.adminDeleteConfirm(ctx, conv, arg)
	case "reload_feature":
		return a.adminReloadFeature(ctx, conv, arg)
	case "regenerate_feature":
		return a.adminRegenerateFeature(ctx, conv, arg)
	}
	return conv.Answer(fmt.Sprintf("Unknown admin option: %s", option), true)
}

func (a *App) adminUsers(ctx context.Context, conv plugins.Conversation) error {
	all, err := a.users.All(ctx)
	if err != nil {
		return err
	}
	active, err := a.users.Active(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👥 *User Management*\n\nTotal users: %s\nActive users (30d): %s\n\nRecent users:\n",
		humanize.Comma(int64(len(all))), humanize.Comma(int64(len(active))))
	for i, u := range all {
		if i == recentUsers {
			break
		}
		role := ""
		if a.users.IsAdmin(u.ID) {
			role = " 🔧"
		}
		fmt.Fprintf(&b, "- %s (`%d`)%s - %s\n", escape(u.DisplayName()), u.ID, role, humanize.RelTime(u.LastActivity, a.now(), "ago", "from now"))
	}
	if len(all) == 0 {
		b.WriteString("No users yet.")
	}
	return present(conv, b.String(), plugins.Keyboard{adminBack()})
}

func formatTop(counts []usage.Count, prefix, empty string) string {
	if len(counts) == 0 {
		return empty
	}
	lines := make([]string, 0, len(counts))
	for _, c := range usage.Top(counts, topEntries) {
		lines = append(lines, fmt.Sprintf("- %s%s: %s", prefix, escape(c.Name), humanize.Comma(int64(c.Value))))
	}
	return strings.Join(lines, "\n")
}

func (a *App) adminAnalytics(conv plugins.Conversation) error {
	snap := a.usage.Snapshot()
	text := fmt.Sprintf("📊 *Analytics*\n\nFeature Usage:\n%s\n\nCommand Usage:\n%s\n\nCounting since %s",
		formatTop(snap.Features, "", "No features used yet"),
		formatTop(snap.Commands, "/", "No commands used yet"),
		formatDate(snap.Since),
	)
	return present(conv, text, plugins.Keyboard{
		row(btn("🔄 Refresh", "admin:analytics")),
		adminBack(),
	})
}

func onOff(v bool, on, off string) string {
	if v {
		return on + " ✅"
	}
	return off + " ❌"
}

func (a *App) adminBotSettings(conv plugins.Conversation) error {
	def := settings.Defaults()
	text := fmt.Sprintf("⚙️ *Bot Settings*\n\n"+
		"Bot name: %s\n"+
		"Default keyboard style: %s\n"+
		"Default notification style: %s\n"+
		"Default language: %s\n\n"+
		"Storage backend: %s\n"+
		"AI generation: %s\n"+
		"Rate limit: %d requests / %s, block %s\n"+
		"Debug mode: %s",
		escape(a.cfg.Telegram.BotName),
		def.KeyboardStyle, def.NotificationStyle, def.Language,
		docstore.BackendOf(a.store),
		onOff(a.gen.AIEnabled(), "Enabled", "Disabled"),
		a.cfg.RateLimit.Limit,
		time.Duration(a.cfg.RateLimit.WindowMS)*time.Millisecond,
		time.Duration(a.cfg.RateLimit.BlockTimeoutMS)*time.Millisecond,
		onOff(a.cfg.Debug, "Enabled", "Disabled"),
	)
	return present(conv, text, plugins.Keyboard{adminBack()})
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, d/time.Second)
}

func (a *App) adminSystemStatus(ctx context.Context, conv plugins.Conversation) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	list, err := a.features.List(ctx, features.Filter{})
	if err != nil {
		return err
	}
	enabled := 0
	for _, f := range list {
		if f.Enabled {
			enabled++
		}
	}

	text := fmt.Sprintf("🖥️ *System Status*\n\n"+
		"*System Information:*\n"+
		"- Platform: %s/%s\n"+
		"- CPUs: %d\n"+
		"- Go: %s\n"+
		"- Build: %s (%s)\n\n"+
		"*Memory Usage:*\n"+
		"- Heap: %s / %s\n"+
		"- System: %s\n"+
		"- Goroutines: %d\n\n"+
		"*Uptime:* %s\n\n"+
		"*Features:* %d (%d enabled), %d handlers loaded\n"+
		"*Storage:* %s",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version(),
		escape(buildinfo.Version), escape(buildinfo.Commit),
		humanize.IBytes(mem.HeapAlloc), humanize.IBytes(mem.HeapSys), humanize.IBytes(mem.Sys),
		runtime.NumGoroutine(),
		formatUptime(a.now().Sub(a.started)),
		len(list), enabled, len(a.loader.Loaded()),
		docstore.BackendOf(a.store),
	)
	return present(conv, text, plugins.Keyboard{
		row(btn("🔄 Refresh", "admin:system_status")),
		adminBack(),
	})
}

// tailLines returns up to n trailing lines of the file at path, reading at
// most limit bytes from its end.
func tailLines(path string, n int, limit int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	off := info.Size() - limit
	if off < 0 {
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	if off > 0 && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}

func (a *App) adminLogs(conv plugins.Conversation) error {
	text := "📝 *Recent Logs*\n\n"
	file := a.cfg.Logging.ErrorsFile
	if file == "" {
		file = a.cfg.Logging.BotFile
	}
	if file == "" {
		text += "File logging is disabled."
		return present(conv, text, plugins.Keyboard{adminBack()})
	}

	lines, err := tailLines(filepath.Join(a.cfg.Logging.Dir, file), logTailLines, logTailMaxBytes)
	switch {
	case errors.Is(err, os.ErrNotExist) || (err == nil && len(lines) == 0):
		text += "No logs found."
	case err != nil:
		return err
	default:
		text += "```\n" + strings.ReplaceAll(strings.Join(lines, "\n"), "`", "'") + "\n```"
	}
	return present(conv, text, plugins.Keyboard{
		row(btn("🔄 Refresh", "admin:logs")),
		adminBack(),
	})
}

func (a *App) adminEditFeatures(ctx context.Context, conv plugins.Conversation) error {
	list, err := a.features.List(ctx, features.Filter{})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return present(conv, "❌ *No Features Found*\n\nThere are no features to edit. Add features first.", plugins.Keyboard{
			row(btn("✨ Add New Feature", "admin:add_feature")),
			adminBack(),
		})
	}
	kb := make(plugins.Keyboard, 0, len(list)+1)
	for _, f := range list {
		label := fmt.Sprintf("%s %s", f.Title(), checkMark(f.Enabled))
		kb = append(kb, row(btn(label, "admin:edit_feature:"+f.ID)))
	}
	kb = append(kb, row(btn("✨ Add New Feature", "admin:add_feature"), btn(backToAdmin, "admin")))
	return present(conv, "🔧 *Edit Features*\n\nSelect a feature to edit:", kb)
}

func checkMark(v bool) string {
	if v {
		return "✅"
	}
	return "❌"
}

// adminFeature loads a feature for an admin operation, telling the admin when it is gone.
func (a *App) adminFeature(ctx context.Context, conv plugins.Conversation, id string) (features.Feature, bool, error) {
	f, err := a.features.Get(ctx, id)
	if errors.Is(err, features.ErrNotFound) {
		return f, false, present(conv, fmt.Sprintf("❌ Feature with ID %s not found.", id), plugins.Keyboard{
			row(btn("🔙 Back to Features", "admin:edit_features")),
		})
	}
	return f, err == nil, err
}

func (a *App) adminEditFeature(ctx context.Context, conv plugins.Conversation, id string) error {
	f, ok, err := a.adminFeature(ctx, conv, id)
	if !ok {
		return err
	}

	handler := "not loaded"
	switch {
	case a.loader.IsBuiltin(f.ID):
		handler = "built-in"
	case loaded(a.loader.Loaded(), f.ID):
		handler = "loaded"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s\n\n", f.Emoji, escape(f.Name), escape(f.Description))
	fmt.Fprintf(&b, "ID: `%s`\nStatus: %s\nSubmenus: %d\nActions: %d\nHandler: %s\nUpdated: %s",
		f.ID, onOff(f.Enabled, "Enabled", "Disabled"), len(f.Submenus), len(f.Actions), handler, formatDate(f.UpdatedAt))

	toggle := "🔴 Disable"
	if !f.Enabled {
		toggle = "🟢 Enable"
	}
	return present(conv, b.String(), plugins.Keyboard{
		row(btn(toggle, "admin:toggle_feature:"+f.ID), btn("🔄 Reload", "admin:reload_feature:"+f.ID)),
		row(btn("🛠 Regenerate", "admin:regenerate_feature:"+f.ID), btn("🗑 Delete", "admin:delete_feature:"+f.ID)),
		row(btn("🔙 Back to Features", "admin:edit_features")),
	})
}

func loaded(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (a *App) adminToggleFeature(ctx context.Context, conv plugins.Conversation, id string) error {
	f, ok, err := a.adminFeature(ctx, conv, id)
	if !ok {
		return err
	}
	if _, err := a.features.Update(ctx, id, features.Patch{Enabled: features.Bool(!f.Enabled)}); err != nil {
		return err
	}
	verb := "enabled"
	if f.Enabled {
		verb = "disabled"
	}
	_ = conv.Answer(fmt.Sprintf("Feature %s %s.", f.Name, verb), false)
	return a.adminEditFeature(ctx, conv, id)
}

func (a *App) adminDeleteFeature(ctx context.Context, conv plugins.Conversation, id string) error {
	f, ok, err := a.adminFeature(ctx, conv, id)
	if !ok {
		return err
	}
	return present(conv, fmt.Sprintf("🗑 *Delete Feature*\n\nDelete %s *%s*? Its handler module is removed as well.", f.Emoji, escape(f.Name)),
		plugins.Keyboard{
			row(btn("✅ Yes, delete", "admin:delete_confirm:"+f.ID), btn("❌ No", "admin:edit_feature:"+f.ID)),
		})
}

func (a *App) adminDeleteConfirm(ctx context.Context, conv plugins.Conversation, id string) error {
	err := a.features.Remove(ctx, id)
	if errors.Is(err, features.ErrNotFound) {
		_, _, err = a.adminFeature(ctx, conv, id)
		return err
	}
	if err != nil {
		return err
	}
	a.usage.Forget(id)
	logger.App.Info("feature deleted by admin",
		slog.String("event", "admin.delete_feature"),
		slog.String("feature_id", id),
		slog.Int64("user_id", conv.Identity()),
	)
	return present(conv, fmt.Sprintf("✅ Feature %s deleted.", id), plugins.Keyboard{
		row(btn("🔙 Back to Features", "admin:edit_features")),
	})
}

func (a *App) adminReloadFeature(ctx context.Context, conv plugins.Conversation, id string) error {
	if _, ok, err := a.adminFeature(ctx, conv, id); !ok {
		return err
	}
	back := plugins.Keyboard{row(btn("🔙 Back to Feature", "admin:edit_feature:"+id))}
	if _, err := a.loader.Reload(ctx, id); err != nil {
		logger.App.Warn("handler reload failed",
			slog.String("event", "admin.reload_feature"),
			slog.String("feature_id", id),
			slog.String("err", err.Error()),
		)
		return present(conv, fmt.Sprintf("❌ Failed to reload %s: %s", id, escape(err.Error())), back)
	}
	return present(conv, fmt.Sprintf("✅ Handler for %s reloaded.", id), back)
}

// adminRegenerateFeature rewrites a generated handler module from the current
// record and loads it. Script modules are kept as they are.
func (a *App) adminRegenerateFeature(ctx context.Context, conv plugins.Conversation, id string) error {
	f, ok, err := a.adminFeature(ctx, conv, id)
	if !ok {
		return err
	}
	back := plugins.Keyboard{row(btn("🔙 Back to Feature", "admin:edit_feature:"+id))}
	if err := a.loader.Regenerate(ctx, f); err != nil {
		logger.App.Warn("handler regeneration failed",
			slog.String("event", "admin.regenerate_feature"),
			slog.String("feature_id", id),
			slog.String("err", err.Error()),
		)
		return present(conv, fmt.Sprintf("❌ Failed to regenerate %s: %s", id, escape(err.Error())), back)
	}
	if _, err := a.loader.Reload(ctx, id); err != nil {
		return present(conv, fmt.Sprintf("❌ Failed to reload %s: %s", id, escape(err.Error())), back)
	}
	logger.App.Info("handler regenerated",
		slog.String("event", "admin.regenerate_feature"),
		slog.String("feature_id", id),
		slog.Int64("user_id", conv.Identity()),
	)
	return present(conv, fmt.Sprintf("✅ Handler for %s regenerated.", id), back)
}

// broadcastText stores a pending broadcast and asks for confirmation.
func (a *App) broadcastText(_ context.Context, conv plugins.Conversation, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return conv.Send("❌ The broadcast message cannot be empty. Send the text or use /cancel to abort.", nil)
	}
	a.states.SetTemp(conv.Identity(), tempBroadcast, text)
	a.states.ClearState(conv.Identity())
	return conv.Send("📣 *Broadcast Preview*\n\n"+text+"\n\nSend this message to all users?", plugins.Keyboard{
		row(btn("✅ Send", "admin:broadcast_confirm"), btn("❌ Cancel", "admin:broadcast_cancel")),
	})
}

func (a *App) broadcastConfirm(ctx context.Context, conv plugins.Conversation) error {
	raw, ok := a.states.GetTemp(conv.Identity(), tempBroadcast)
	msg, _ := raw.(string)
	if !ok || msg == "" {
		return present(conv, "❌ Broadcast failed: No message found in session. Please try again.", plugins.Keyboard{adminBack()})
	}
	a.states.ClearTemp(conv.Identity(), tempBroadcast)

	n := a.currentNotifier()
	if n == nil {
		return present(conv, "❌ Broadcast failed: the bot is not connected.", plugins.Keyboard{adminBack()})
	}
	ids, err := a.users.IDs(ctx)
	if err != nil {
		return err
	}
	_ = present(conv, "📣 Broadcasting message to all users...", nil)

	sent, failed := 0, 0
	for _, id := range ids {
		if err := n.Notify(ctx, id, msg); err != nil {
			failed++
			logger.App.Warn("broadcast delivery failed",
				slog.String("event", "admin.broadcast"),
				slog.Int64("user_id", id),
				slog.String("err", err.Error()),
			)
			continue
		}
		sent++
	}
	logger.App.Info("broadcast queued",
		slog.String("event", "admin.broadcast"),
		slog.Int("sent", sent),
		slog.Int("failed", failed),
	)
	return conv.Send(fmt.Sprintf("✅ Broadcast completed!\n\n- Message sent to: %d users\n- Failed: %d users", sent, failed),
		plugins.Keyboard{adminBack()})
}

var _ dispatch.Screens = (*App)(nil)
