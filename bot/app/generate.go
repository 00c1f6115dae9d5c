package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/bot/aigen"
	"github.com/m3rciful/featurebot/bot/dispatch"
	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/bot/plugins"
	"github.com/m3rciful/featurebot/core/logger"
	tghelpers "github.com/m3rciful/featurebot/core/telegram/helpers"
	"github.com/m3rciful/featurebot/core/telegram/state"
)

// Feature generation states.
const (
	StateTemplateInfo  state.State = "awaiting_template_info"
	StateAIDescription state.State = "awaiting_ai_description"
	StateJSONImport    state.State = "awaiting_json_import"
	StateCustomInfo    state.State = "awaiting_custom_info"
	StateCustomCode    state.State = "awaiting_custom_code"
)

const (
	tempCustomInfo = "custom_feature"
	maxImportBytes = 256 << 10
)

const templateExample = "Example:\n" +
	"```\n" +
	"ID: weather\n" +
	"Name: Weather Forecast\n" +
	"Description: Get weather forecasts for any location\n" +
	"Emoji: 🌤\n" +
	"```"

const (
	msgInvalidTemplate = "❌ Invalid format. Please provide all required information in the correct format.\n\n" + templateExample
	msgInvalidJSON     = "❌ Invalid JSON format. Please check your JSON and try again."
	msgInvalidImport   = "❌ Invalid feature data. The JSON must include id, name, description, and emoji fields."
	msgNotJSONFile     = "❌ Please upload a JSON file. The file should have a .json extension."
	msgShortDesc       = "❌ Please provide a more detailed description of the feature you want to create."
)

var genPrompts = map[string]string{
	dispatch.GenTemplate: "📋 *Create Feature from Template*\n\n" +
		"To create a feature from a template, send me the following information:\n\n" +
		"1. Feature ID (alphanumeric, no spaces)\n" +
		"2. Feature Name\n" +
		"3. Feature Description\n" +
		"4. Feature Emoji\n\n" +
		templateExample + "\n\n" +
		"Send this information in a single message or use /cancel to abort.",
	dispatch.GenAI: "🤖 *AI-Assisted Feature Creation*\n\n" +
		"Describe the feature you want to create, and I'll generate it for you. " +
		"Be as detailed as possible about what the feature should do.\n\n" +
		"Example: *\"Create a feature that lets users search for recipes by ingredients. " +
		"It should have options to filter by cuisine type and cooking time.\"*\n\n" +
		"Send your description in a single message or use /cancel to abort.",
	dispatch.GenImport: "📥 *Import Feature from JSON*\n\n" +
		"Send me a JSON file or paste the JSON code for the feature you want to import.\n\n" +
		"The JSON should follow this structure:\n" +
		"```\n" +
		"{\n" +
		"  \"id\": \"feature_id\",\n" +
		"  \"name\": \"Feature Name\",\n" +
		"  \"description\": \"Feature Description\",\n" +
		"  \"emoji\": \"🔍\",\n" +
		"  \"enabled\": true,\n" +
		"  \"submenus\": [...],\n" +
		"  \"actions\": [...]\n" +
		"}\n" +
		"```\n\n" +
		"Send your JSON or use /cancel to abort.",
	dispatch.GenCustom: "🧩 *Custom Feature Code*\n\n" +
		"This option allows you to create a feature with custom code. First, provide the basic feature information:\n\n" +
		"1. Feature ID (alphanumeric, no spaces)\n" +
		"2. Feature Name\n" +
		"3. Feature Description\n" +
		"4. Feature Emoji\n\n" +
		"After providing this information, you'll be prompted to send the custom code.\n\n" +
		"Send this information in a single message or use /cancel to abort.",
}

var genStates = map[string]state.State{
	dispatch.GenTemplate: StateTemplateInfo,
	dispatch.GenAI:       StateAIDescription,
	dispatch.GenImport:   StateJSONImport,
	dispatch.GenCustom:   StateCustomInfo,
}

const customCodePrompt = "📝 Now, please send me the custom code for your feature. " +
	"It is a Starlark module that may define these functions:\n\n" +
	"- `handle_action(action, feature)`: handle the feature's actions\n" +
	"- `handle_callback(token)`: handle custom callbacks\n" +
	"- `open_feature(feature)`: draw the feature screen\n" +
	"- `init(feature)`: run once after loading\n\n" +
	"Reply with `reply(text, buttons=[[(label, data)]])`, `answer(text)` and `user_id()`. " +
	"Return True when the input was handled.\n\n" +
	"Example:\n```\n" +
	"def handle_action(action, feature):\n" +
	"    reply(\"You pressed \" + action.name)\n" +
	"    return True\n\n" +
	"def handle_callback(token):\n" +
	"    return False\n" +
	"```\n\n" +
	"Send your code as a text message or use /cancel to abort."

func adminBackKB() plugins.Keyboard { return plugins.Keyboard{adminBack()} }

// FeatureGen shows the prompt of a generation mode and waits for the admin's answer.
func (a *App) FeatureGen(_ context.Context, conv plugins.Conversation, mode string) error {
	prompt, ok := genPrompts[mode]
	if !ok {
		return conv.Answer(fmt.Sprintf("Unknown feature generation method: %s", mode), true)
	}
	if mode == dispatch.GenAI && !a.gen.AIEnabled() {
		return present(conv, "🤖 *AI-Assisted Feature Creation*\n\n"+
			"AI generation is not configured. Set `ai.enabled` and an API key, or create the feature from a template.",
			plugins.Keyboard{row(btn(backToAdmin, "admin:add_feature"))})
	}
	id := conv.Identity()
	a.states.ClearTemp(id, tempCustomInfo)
	a.states.SetState(id, genStates[mode])
	return present(conv, prompt, plugins.Keyboard{row(btn("🔙 Back", "admin:add_feature"))})
}

type textStep func(ctx context.Context, conv plugins.Conversation, text string) error

func (a *App) registerStates() {
	a.states.RegisterHandler(StateTemplateInfo, a.textState(true, "Error creating feature", a.templateInfo))
	a.states.RegisterHandler(StateAIDescription, a.textState(true, "Error creating feature", a.aiDescription))
	a.states.RegisterHandler(StateJSONImport, a.importState)
	a.states.RegisterHandler(StateCustomInfo, a.textState(true, "Error processing feature information", a.customInfo))
	a.states.RegisterHandler(StateCustomCode, a.textState(true, "Error creating feature", a.customCode))
	a.states.RegisterHandler(StateBroadcast, a.textState(true, "Error preparing broadcast", a.broadcastText))
	a.states.RegisterHandler(plugins.EchoPending, a.textState(false, "", a.echoText))
}

func isCancel(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "/cancel")
}

// textState adapts a step to the FSM. Admin steps are dropped once the
// sender lost admin rights.
func (a *App) textState(admin bool, failure string, step textStep) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		conv := newConversation(c)
		if isCancel(c.Text()) {
			return a.cancelFlow(ctx, conv)
		}
		if admin && !a.users.IsAdmin(conv.Identity()) {
			a.states.Clear(conv.Identity())
			return conv.Send(dispatch.MsgNoPermission, nil)
		}
		return a.stepFailed(ctx, conv, failure, step(ctx, conv, c.Text()))
	}
}

func (a *App) stepFailed(ctx context.Context, conv plugins.Conversation, failure string, err error) error {
	if err == nil {
		return nil
	}
	logger.App.ErrorContext(ctx, "flow step failed",
		slog.String("event", "app.flow"),
		slog.String("state", string(a.states.GetState(conv.Identity()))),
		slog.String("err", err.Error()),
	)
	if failure == "" {
		return conv.Send(dispatch.MsgGenericError, nil)
	}
	return conv.Send(failure+": "+err.Error(), adminBackKB())
}

func duplicateText(id string) string {
	return fmt.Sprintf("❌ A feature with ID \"%s\" already exists.\n\n"+
		"Please use a different feature ID or remove the existing feature first.", id)
}

func createdText(f features.Feature, suffix string) string {
	return fmt.Sprintf("✅ Feature \"%s\" %s!\n\nID: %s\nEmoji: %s\n\nThe feature is now available in the main menu.",
		f.Name, suffix, f.ID, f.Emoji)
}

func (a *App) templateInfo(ctx context.Context, conv plugins.Conversation, text string) error {
	info, err := aigen.ParseTemplateInfo(text)
	if errors.Is(err, features.ErrValidation) {
		return conv.Send("❌ "+err.Error(), nil)
	}
	if err != nil {
		return conv.Send(msgInvalidTemplate, nil)
	}
	_ = conv.Send("⏳ Creating feature from template...", nil)
	f, err := a.gen.FromTemplate(ctx, info)
	switch {
	case errors.Is(err, features.ErrDuplicateID):
		return conv.Send(duplicateText(info.ID), nil)
	case errors.Is(err, features.ErrValidation):
		return conv.Send("❌ "+err.Error(), nil)
	case err != nil:
		return err
	}
	a.states.ClearState(conv.Identity())
	return conv.Send(createdText(f, "created successfully"), adminBackKB())
}

func aiFailure(err error) string {
	switch {
	case errors.Is(err, aigen.ErrUnparsable):
		return "Failed to parse the AI-generated feature. Please try again with a clearer description."
	case errors.Is(err, aigen.ErrIncomplete):
		return "AI generated incomplete feature data. Please try again."
	case errors.Is(err, aigen.ErrTimeout):
		return "The AI service did not answer in time."
	case errors.Is(err, aigen.ErrDisabled):
		return "AI generation is not configured."
	case errors.Is(err, features.ErrDuplicateID):
		return "A feature with this ID already exists."
	}
	return err.Error()
}

func (a *App) aiDescription(ctx context.Context, conv plugins.Conversation, text string) error {
	if len([]rune(strings.TrimSpace(text))) < aigen.MinDescription {
		return conv.Send(msgShortDesc, nil)
	}
	_ = conv.Send("⏳ Generating feature with AI... This may take a moment.", nil)
	f, err := a.gen.FromDescription(ctx, text)
	if err != nil {
		logger.AIGen.WarnContext(ctx, "generation failed",
			slog.String("event", "aigen.describe"),
			slog.String("err", err.Error()),
		)
		return conv.Send("❌ Failed to generate feature with AI: "+aiFailure(err)+"\n\n"+
			"Please try again with a more specific description or use a template instead.", adminBackKB())
	}
	a.states.ClearState(conv.Identity())
	return conv.Send(fmt.Sprintf("✅ Feature \"%s\" created successfully!\n\nID: %s\nEmoji: %s\n\nDescription: %s\n\n"+
		"The feature is now available in the main menu.", f.Name, f.ID, f.Emoji, f.Description), adminBackKB())
}

// importState accepts pasted JSON or an uploaded .json document.
func (a *App) importState(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	conv := newConversation(c)
	msg := c.Message()
	if msg == nil || msg.Document == nil {
		return a.textState(true, "Error importing feature", a.importText)(c)
	}
	if !a.users.IsAdmin(conv.Identity()) {
		a.states.Clear(conv.Identity())
		return conv.Send(dispatch.MsgNoPermission, nil)
	}

	doc := msg.Document
	if !strings.HasSuffix(strings.ToLower(doc.FileName), ".json") {
		return conv.Send(msgNotJSONFile, nil)
	}
	if doc.FileSize > maxImportBytes {
		return conv.Send(fmt.Sprintf("❌ The file is too large. The limit is %d KB.", maxImportBytes>>10), nil)
	}
	body, err := download(c, doc)
	if err != nil {
		return a.stepFailed(ctx, conv, "Error processing uploaded file", err)
	}
	return a.stepFailed(ctx, conv, "Error importing feature", a.importJSON(ctx, conv, body))
}

func download(c tele.Context, doc *tele.Document) ([]byte, error) {
	rc, err := c.Bot().File(&doc.File)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, maxImportBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxImportBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxImportBytes)
	}
	return body, nil
}

func (a *App) importText(ctx context.Context, conv plugins.Conversation, text string) error {
	return a.importJSON(ctx, conv, []byte(text))
}

func (a *App) importJSON(ctx context.Context, conv plugins.Conversation, body []byte) error {
	f, err := a.features.Import(ctx, body)
	switch {
	case errors.Is(err, features.ErrInvalidJSON):
		return conv.Send(msgInvalidJSON, nil)
	case errors.Is(err, features.ErrDuplicateID):
		var peek struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(body, &peek)
		return conv.Send(duplicateText(peek.ID), nil)
	case errors.Is(err, features.ErrValidation):
		return conv.Send(msgInvalidImport+"\n\n"+err.Error(), nil)
	case err != nil:
		return err
	}
	a.states.ClearState(conv.Identity())
	return conv.Send(createdText(f, "imported successfully"), adminBackKB())
}

func (a *App) customInfo(ctx context.Context, conv plugins.Conversation, text string) error {
	info, err := aigen.ParseTemplateInfo(text)
	if errors.Is(err, features.ErrValidation) {
		return conv.Send("❌ "+err.Error(), nil)
	}
	if err != nil {
		return conv.Send(msgInvalidTemplate, nil)
	}
	if _, err := a.features.Get(ctx, info.ID); err == nil {
		return conv.Send(duplicateText(info.ID), nil)
	} else if !errors.Is(err, features.ErrNotFound) {
		return err
	}
	id := conv.Identity()
	a.states.SetTemp(id, tempCustomInfo, info)
	a.states.SetState(id, StateCustomCode)
	return conv.Send(customCodePrompt, nil)
}

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\s*```$")

// stripFence unwraps code pasted inside a Markdown fence.
func stripFence(code string) string {
	code = strings.TrimSpace(code)
	if m := codeFence.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	return code
}

func (a *App) customCode(ctx context.Context, conv plugins.Conversation, text string) error {
	id := conv.Identity()
	raw, _ := a.states.GetTemp(id, tempCustomInfo)
	info, ok := raw.(aigen.TemplateInfo)
	if !ok {
		a.states.ClearState(id)
		return conv.Send("❌ Feature information not found. Please start over.", adminBackKB())
	}

	if _, err := a.features.Get(ctx, info.ID); err == nil {
		a.states.Clear(id)
		return conv.Send(duplicateText(info.ID), adminBackKB())
	}

	src := []byte(stripFence(text))
	if err := a.loader.WriteScript(ctx, info.ID, src); err != nil {
		if errors.Is(err, plugins.ErrHandlerLoad) {
			return conv.Send("❌ The code could not be loaded:\n\n"+err.Error()+
				"\n\nFix it and send it again or use /cancel to abort.", nil)
		}
		return err
	}
	f, err := a.features.Add(ctx, features.Draft{
		ID:          info.ID,
		Name:        info.Name,
		Description: info.Description,
		Emoji:       info.Emoji,
		Enabled:     features.Bool(true),
	})
	if err != nil {
		if rerr := a.loader.Remove(ctx, info.ID); rerr != nil {
			logger.App.WarnContext(ctx, "script cleanup failed",
				slog.String("event", "app.custom_code"),
				slog.String("feature_id", info.ID),
				slog.String("err", rerr.Error()),
			)
		}
		return err
	}
	if _, err := a.loader.Reload(ctx, f.ID); err != nil {
		_ = conv.Send("⚠️ The feature was saved but its handler failed to start: "+err.Error(), nil)
	}
	a.states.Clear(id)
	return conv.Send(createdText(f, "created successfully with custom code"), adminBackKB())
}

// echoText hands the pending text to the echo feature's handler.
func (a *App) echoText(ctx context.Context, conv plugins.Conversation, text string) error {
	h, err := a.loader.Handler(ctx, "echo")
	if err != nil {
		a.states.ClearState(conv.Identity())
		return err
	}
	r, ok := h.(plugins.TextReceiver)
	if !ok {
		a.states.ClearState(conv.Identity())
		return nil
	}
	return r.HandleText(ctx, conv, text)
}
