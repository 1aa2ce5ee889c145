package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/lifeline/internal/dialogue"
	"github.com/user/lifeline/internal/poll"
	"github.com/user/lifeline/internal/restapi"
	"github.com/user/lifeline/internal/types"
)

const maxTelegramMessage = 4096

// Callback-data prefixes for inline keyboard buttons.
const (
	cbOption  = "opt:"
	cbConfirm = "confirm"
	cbAction  = "qa:"
)

// Adapter surfaces guided conversations over Telegram: counterpart messages
// become chat messages, pending-question options become inline keyboards,
// and free text feeds straight into the session.
type Adapter struct {
	bot       *tgbotapi.BotAPI
	baseURL   string
	intervals poll.Intervals
	profiles  types.ProfileStore

	mu     sync.Mutex
	active map[int64]*conversation
}

// conversation is one open session bound to a chat.
type conversation struct {
	session *dialogue.Session
	orch    *poll.Orchestrator
	cancel  context.CancelFunc
}

// New creates a Telegram adapter.
func New(token, baseURL string, intervals poll.Intervals, profiles types.ProfileStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:       bot,
		baseURL:   baseURL,
		intervals: intervals,
		profiles:  profiles,
		active:    make(map[int64]*conversation),
	}, nil
}

// Start begins long-polling for Telegram updates. Blocks until ctx is done,
// then closes every open conversation.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				a.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil && update.Message.Text != "":
				a.handleMessage(ctx, update.Message)
			}
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			a.closeAll()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	conv := a.conversation(msg.Chat.ID)
	if conv == nil {
		a.send(msg.Chat.ID, "No open conversation. Use /open <id> to connect to your case.")
		return
	}

	if err := conv.session.SubmitFreeText(ctx, msg.Text); err != nil {
		slog.Warn("submit free text failed", "chat_id", msg.Chat.ID, "error", err)
		a.send(msg.Chat.ID, "Could not confirm delivery of your update. You may resend it.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.send(chatID, "Welcome to Lifeline. Set your role with /role caller|helper, then connect with /open <case or assignment id>.")

	case "role":
		arg := strings.TrimSpace(msg.CommandArguments())
		role := types.Role(arg)
		if role != types.RoleCaller && role != types.RoleHelper {
			a.send(chatID, "Usage: /role caller|helper")
			return
		}
		profile, err := a.profiles.Get(ctx, profileKey(chatID))
		if err != nil || profile == nil {
			profile = &types.Profile{}
		}
		profile.Role = role
		if err := a.profiles.Put(ctx, profileKey(chatID), profile); err != nil {
			slog.Error("save profile failed", "chat_id", chatID, "error", err)
			a.send(chatID, "Could not save your role. Try again.")
			return
		}
		a.send(chatID, fmt.Sprintf("Role set to %s.", role))

	case "open":
		ref, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
		if err != nil {
			a.send(chatID, "Usage: /open <case id> (caller) or /open <assignment id> (helper)")
			return
		}
		a.openConversation(ctx, chatID, ref)

	case "close":
		if a.closeConversation(chatID) {
			a.send(chatID, "Conversation closed.")
		} else {
			a.send(chatID, "No open conversation.")
		}

	case "actions":
		conv := a.conversation(chatID)
		if conv == nil || conv.session.Config().Role != types.RoleHelper {
			a.send(chatID, "Quick actions are available to helpers with an open conversation.")
			return
		}
		a.sendQuickActions(chatID)

	case "status":
		conv := a.conversation(chatID)
		if conv == nil {
			a.send(chatID, "No open conversation.")
			return
		}
		a.send(chatID, formatStatus(conv.session))

	default:
		a.send(chatID, "Unknown command. Available: /start, /role, /open, /close, /actions, /status")
	}
}

func (a *Adapter) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	conv := a.conversation(chatID)
	if conv == nil {
		a.answerCallback(cb.ID, "Conversation closed")
		return
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, cbOption):
		optionID := strings.TrimPrefix(data, cbOption)
		pending, ok := conv.session.Pending()
		if !ok {
			a.answerCallback(cb.ID, "This question was already answered")
			return
		}
		if err := conv.session.SelectOption(ctx, optionID); err != nil {
			a.answerCallback(cb.ID, "Option no longer available")
			return
		}
		if pending.Question.Arity == types.ArityMultiple {
			a.answerCallback(cb.ID, fmt.Sprintf("Selected: %s", strings.Join(conv.session.Selection(), ", ")))
		} else {
			a.answerCallback(cb.ID, "Sent")
		}

	case data == cbConfirm:
		if err := conv.session.ConfirmSelection(ctx); err != nil {
			a.answerCallback(cb.ID, "Select at least one option first")
			return
		}
		a.answerCallback(cb.ID, "Sent")

	case strings.HasPrefix(data, cbAction):
		idx, err := strconv.Atoi(strings.TrimPrefix(data, cbAction))
		actions := dialogue.QuickActions()
		if err != nil || idx < 0 || idx >= len(actions) {
			a.answerCallback(cb.ID, "Unknown action")
			return
		}
		if err := conv.session.SubmitQuickAction(ctx, actions[idx]); err != nil {
			a.answerCallback(cb.ID, "Could not submit action")
			return
		}
		a.answerCallback(cb.ID, actions[idx].Label)
	}
}

// openConversation builds the collaborator client, session, and polling
// orchestrator for a chat, replacing any previous conversation.
func (a *Adapter) openConversation(ctx context.Context, chatID int64, ref int64) {
	profile, err := a.profiles.Get(ctx, profileKey(chatID))
	if err != nil || profile == nil || profile.Role == "" {
		a.send(chatID, "Set your role first: /role caller|helper")
		return
	}
	a.closeConversation(chatID)

	client := restapi.New(a.baseURL, profile.Role)

	cfg := dialogue.Config{Role: profile.Role}
	if profile.Role == types.RoleHelper {
		assignment, err := client.FetchAssignment(ctx, types.AssignmentID(ref))
		if err != nil {
			slog.Warn("fetch assignment failed", "assignment_id", ref, "error", err)
			a.send(chatID, "Could not look up that assignment. Try again.")
			return
		}
		cfg.AssignmentID = assignment.ID
		cfg.CaseID = assignment.CaseID
		profile.AssignmentID = assignment.ID
		profile.CaseID = assignment.CaseID
	} else {
		cfg.CaseID = types.CaseID(ref)
		profile.CaseID = types.CaseID(ref)
	}
	if err := a.profiles.Put(ctx, profileKey(chatID), profile); err != nil {
		slog.Warn("save profile failed", "chat_id", chatID, "error", err)
	}

	session := dialogue.NewSession(cfg, client, dialogue.WithOnEntry(func(e types.ConversationEntry) {
		a.deliverEntry(chatID, e)
	}))

	orch := poll.New(session, client, client, client, client, client, a.intervals)
	convCtx, cancel := context.WithCancel(ctx)
	if err := orch.Start(convCtx); err != nil {
		cancel()
		slog.Error("start polling failed", "chat_id", chatID, "error", err)
		a.send(chatID, "Could not start the conversation. Try again.")
		return
	}

	a.mu.Lock()
	a.active[chatID] = &conversation{session: session, orch: orch, cancel: cancel}
	a.mu.Unlock()

	a.send(chatID, "Connected. Analyzing your situation and preparing guidance...")
}

func (a *Adapter) closeConversation(chatID int64) bool {
	a.mu.Lock()
	conv := a.active[chatID]
	delete(a.active, chatID)
	a.mu.Unlock()

	if conv == nil {
		return false
	}
	conv.session.Close()
	conv.orch.Stop()
	conv.cancel()
	return true
}

func (a *Adapter) closeAll() {
	a.mu.Lock()
	convs := a.active
	a.active = make(map[int64]*conversation)
	a.mu.Unlock()

	for _, conv := range convs {
		conv.session.Close()
		conv.orch.Stop()
		conv.cancel()
	}
}

func (a *Adapter) conversation(chatID int64) *conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[chatID]
}

// deliverEntry renders a timeline entry to the chat. Self entries are the
// user's own input and are not echoed; counterpart entries carrying a
// question get an inline keyboard.
func (a *Adapter) deliverEntry(chatID int64, e types.ConversationEntry) {
	if e.Author != types.AuthorCounterpart {
		return
	}
	if e.Question == nil {
		a.send(chatID, e.Text)
		return
	}

	msg := tgbotapi.NewMessage(chatID, e.Text)
	msg.ReplyMarkup = buildKeyboard(e.Question)
	if _, err := a.bot.Send(msg); err != nil {
		slog.Error("send question failed", "chat_id", chatID, "error", err)
	}
}

// buildKeyboard renders question options as one inline button per row;
// multiple-choice questions get a trailing confirm button.
func buildKeyboard(q *types.Question) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, opt := range q.Options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Label, cbOption+opt.ID),
		))
	}
	if q.Arity == types.ArityMultiple {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Done", cbConfirm),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (a *Adapter) sendQuickActions(chatID int64) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, action := range dialogue.QuickActions() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(action.Label, fmt.Sprintf("%s%d", cbAction, i)),
		))
	}
	msg := tgbotapi.NewMessage(chatID, "Quick status updates:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := a.bot.Send(msg); err != nil {
		slog.Error("send quick actions failed", "chat_id", chatID, "error", err)
	}
}

// formatStatus summarizes the session snapshot for /status.
func formatStatus(s *dialogue.Session) string {
	snap := s.Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Case #%d\n", s.Config().CaseID)
	fmt.Fprintf(&sb, "State: %s\n", s.State())
	if snap.Case != nil {
		fmt.Fprintf(&sb, "Status: %s, urgency: %s\n", snap.Case.Status, snap.Case.Urgency)
		if snap.Case.PeopleCount > 0 {
			fmt.Fprintf(&sb, "People: %d\n", snap.Case.PeopleCount)
		}
	}
	if snap.Assignment != nil {
		fmt.Fprintf(&sb, "Responder assigned (assignment #%d)\n", snap.Assignment.ID)
		if snap.HelperLocation != nil {
			fmt.Fprintf(&sb, "Responder location: %.5f, %.5f\n", snap.HelperLocation.Lat, snap.HelperLocation.Lng)
		}
	} else {
		sb.WriteString("Waiting for a responder\n")
	}
	fmt.Fprintf(&sb, "Messages: %d", len(s.Entries()))
	return sb.String()
}

func (a *Adapter) send(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := a.bot.Send(msg); err != nil {
			slog.Error("send message failed", "chat_id", chatID, "error", err)
		}
	}
}

func (a *Adapter) answerCallback(id, text string) {
	if _, err := a.bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		slog.Error("answer callback failed", "error", err)
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func profileKey(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}
