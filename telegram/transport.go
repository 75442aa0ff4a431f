package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ishowlab-boop/CircleMakerProBot/admin"
	"github.com/ishowlab-boop/CircleMakerProBot/convert"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
	"github.com/ishowlab-boop/CircleMakerProBot/telemetry"
)

// Converter runs one paid conversion.
type Converter interface {
	Convert(ctx context.Context, req convert.Request) convert.Outcome
}

// Config holds the transport settings.
type Config struct {
	Links       Links
	FreeCredits int64
}

// Transport dispatches bot updates.
type Transport struct {
	api       API
	engine    *ledger.Engine
	converter Converter
	console   *admin.Console
	cfg       Config
	inflight  sync.WaitGroup
}

// NewTransport wires the transport to its collaborators.
func NewTransport(api API, engine *ledger.Engine, converter Converter, console *admin.Console, cfg Config) *Transport {
	return &Transport{api: api, engine: engine, converter: converter, console: console, cfg: cfg}
}

// Dispatch is a bot.HandlerFunc that handles update on its own goroutine so
// a long conversion or broadcast does not hold up other chats.
func (t *Transport) Dispatch(ctx context.Context, b *bot.Bot, update *models.Update) {
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		t.Handle(ctx, b, update)
	}()
}

// Wait blocks until every dispatched update has been handled.
func (t *Transport) Wait() { t.inflight.Wait() }

// Handle is a bot.HandlerFunc. The *bot.Bot argument is ignored in favor of
// the API given to NewTransport.
func (t *Transport) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}
	ctx = telemetry.NewCorrelation(ctx)
	switch {
	case update.CallbackQuery != nil:
		t.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		t.handleMessage(ctx, update.Message)
	}
}

func (t *Transport) logger(ctx context.Context) *slog.Logger {
	return telemetry.LoggerWithCorr(ctx).With(slog.String("component", "telegram"))
}

func (t *Transport) touch(ctx context.Context, u *models.User) {
	if u == nil {
		return
	}
	if _, err := t.engine.Touch(ctx, ledger.Identity{UserID: u.ID, Username: u.Username, FirstName: u.FirstName}); err != nil {
		t.logger(ctx).Error("touch account", slog.Int64("user_id", u.ID), slog.Any("error", err))
	}
}

func (t *Transport) send(ctx context.Context, chatID int64, text string, kb *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{ChatID: chatID, Text: text, ParseMode: models.ParseModeHTML}
	if kb != nil {
		params.ReplyMarkup = kb
	}
	if _, err := t.api.SendMessage(ctx, params); err != nil {
		t.logger(ctx).Warn("send message", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func (t *Transport) edit(ctx context.Context, chatID int64, messageID int, text string, kb *models.InlineKeyboardMarkup) {
	params := &bot.EditMessageTextParams{ChatID: chatID, MessageID: messageID, Text: text, ParseMode: models.ParseModeHTML}
	if kb != nil {
		params.ReplyMarkup = kb
	}
	if _, err := t.api.EditMessageText(ctx, params); err != nil {
		// fall back to a new message when the original cannot be edited
		t.send(ctx, chatID, text, kb)
	}
}

func (t *Transport) handleMessage(ctx context.Context, msg *models.Message) {
	from := msg.From
	chatID := msg.Chat.ID
	t.touch(ctx, from)

	if req, ok := mediaRequest(msg); ok {
		t.convert(ctx, req)
		return
	}

	text := strings.TrimSpace(msg.Text)
	cmd := commandOf(text)
	switch cmd {
	case "/start":
		t.send(ctx, chatID, welcomeText(from.FirstName, t.cfg.FreeCredits, t.cfg.Links), userMenu())
		return
	case "/status":
		t.status(ctx, chatID, from.ID, 0)
		return
	case "/free":
		t.claim(ctx, chatID, from.ID, 0)
		return
	case "/admin":
		t.adminMenu(ctx, chatID, from.ID, 0)
		return
	case "/cancel":
		if t.console.IsAdmin(from.ID) {
			if err := t.console.Cancel(ctx, from.ID); err != nil {
				t.logger(ctx).Error("cancel admin step", slog.Any("error", err))
			}
			t.send(ctx, chatID, "Cancelled.", nil)
			return
		}
	}

	if text != "" && cmd == "" {
		if _, ok, err := t.console.Pending(ctx, from.ID); err == nil && ok {
			t.completeAdmin(ctx, chatID, from.ID, text)
			return
		}
	}
	t.send(ctx, chatID, msgUnsupported, userMenu())
}

func commandOf(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

// mediaRequest maps an upload to a conversion request.
func mediaRequest(msg *models.Message) (convert.Request, bool) {
	req := convert.Request{UserID: msg.From.ID, ChatID: msg.Chat.ID}
	switch {
	case msg.Video != nil:
		v := msg.Video
		req.Kind = ledger.KindVideo
		req.Media = convert.Media{FileID: v.FileID, FileName: v.FileName, MimeType: v.MimeType, Duration: v.Duration, Size: v.FileSize}
	case msg.Animation != nil:
		a := msg.Animation
		req.Kind = ledger.KindVideo
		req.Media = convert.Media{FileID: a.FileID, FileName: a.FileName, MimeType: a.MimeType, Duration: a.Duration, Size: a.FileSize}
	case msg.Voice != nil:
		v := msg.Voice
		req.Kind = ledger.KindVoice
		req.Media = convert.Media{FileID: v.FileID, MimeType: v.MimeType, Duration: v.Duration, Size: v.FileSize}
	case msg.Audio != nil:
		a := msg.Audio
		req.Kind = ledger.KindVoice
		req.Media = convert.Media{FileID: a.FileID, FileName: a.FileName, MimeType: a.MimeType, Duration: a.Duration, Size: a.FileSize}
	case msg.Document != nil:
		d := msg.Document
		switch {
		case strings.HasPrefix(d.MimeType, "video/"):
			req.Kind = ledger.KindVideo
		case strings.HasPrefix(d.MimeType, "audio/"):
			req.Kind = ledger.KindVoice
		default:
			return convert.Request{}, false
		}
		req.Media = convert.Media{FileID: d.FileID, FileName: d.FileName, MimeType: d.MimeType, Size: d.FileSize}
	default:
		return convert.Request{}, false
	}
	return req, true
}

func (t *Transport) convert(ctx context.Context, req convert.Request) {
	action := models.ChatAction("upload_video_note")
	if req.Kind == ledger.KindVoice {
		action = models.ChatAction("upload_voice")
	}
	_, _ = t.api.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: req.ChatID, Action: action})

	out := t.converter.Convert(ctx, req)
	switch out.Kind {
	case convert.Succeeded:
		acc, err := t.engine.Snapshot(ctx, req.UserID)
		if err != nil {
			t.logger(ctx).Error("balance after conversion", slog.Int64("user_id", req.UserID), slog.Any("error", err))
			t.send(ctx, req.ChatID, msgDone, nil)
			return
		}
		t.send(ctx, req.ChatID, doneText(acc), nil)
	case convert.InsufficientCredit:
		t.send(ctx, req.ChatID, insufficientText(out.Balance, out.Required, t.cfg.Links), userMenu())
	case convert.TranscodeFailed, convert.Canceled:
		switch {
		case out.RefundErr != nil:
			t.send(ctx, req.ChatID, msgRefundFailed, nil)
		case !out.Retryable:
			t.send(ctx, req.ChatID, msgConvertFatal, nil)
		default:
			t.send(ctx, req.ChatID, msgConvertFailed, nil)
		}
	case convert.Unsupported:
		t.send(ctx, req.ChatID, msgUnsupported, nil)
	default:
		t.send(ctx, req.ChatID, msgTryLater, nil)
	}
}

func (t *Transport) status(ctx context.Context, chatID, userID int64, messageID int) {
	acc, err := t.engine.Snapshot(ctx, userID)
	if err != nil {
		t.logger(ctx).Error("status", slog.Int64("user_id", userID), slog.Any("error", err))
		t.send(ctx, chatID, msgTryLater, nil)
		return
	}
	t.reply(ctx, chatID, messageID, statusText(acc, t.cfg.Links), userMenu())
}

func (t *Transport) claim(ctx context.Context, chatID, userID int64, messageID int) {
	res, acc, err := t.engine.ClaimFreeCredits(ctx, userID)
	if err != nil {
		telemetry.RecordFreeClaim("error")
		t.logger(ctx).Error("free claim", slog.Int64("user_id", userID), slog.Any("error", err))
		t.send(ctx, chatID, msgTryLater, nil)
		return
	}
	telemetry.RecordFreeClaim(res.String())
	switch res {
	case ledger.ClaimGranted:
		t.reply(ctx, chatID, messageID, claimedText(acc), userMenu())
	case ledger.ClaimAlreadyClaimed:
		t.send(ctx, chatID, msgAlreadyClaim, nil)
	default:
		t.send(ctx, chatID, msgNotSubscribed, nil)
	}
}

// reply edits messageID when set, otherwise sends a new message.
func (t *Transport) reply(ctx context.Context, chatID int64, messageID int, text string, kb *models.InlineKeyboardMarkup) {
	if messageID != 0 {
		t.edit(ctx, chatID, messageID, text, kb)
		return
	}
	t.send(ctx, chatID, text, kb)
}

func (t *Transport) handleCallback(ctx context.Context, q *models.CallbackQuery) {
	t.touch(ctx, &q.From)
	var chatID int64
	var messageID int
	if m := q.Message.Message; m != nil {
		chatID, messageID = m.Chat.ID, m.ID
	} else if m := q.Message.InaccessibleMessage; m != nil {
		chatID = m.Chat.ID
	} else {
		chatID = q.From.ID
	}

	answer := ""
	defer func() {
		_, _ = t.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: q.ID, Text: answer})
	}()

	cb, err := ParseCallback(q.Data)
	if err != nil {
		t.logger(ctx).Debug("ignoring callback", slog.String("data", q.Data))
		return
	}
	if !cb.Admin {
		switch cb.Action {
		case ActStatus:
			t.status(ctx, chatID, q.From.ID, messageID)
		case ActFree:
			t.claim(ctx, chatID, q.From.ID, 0)
		}
		return
	}
	answer = t.adminCallback(ctx, chatID, messageID, q.From.ID, cb)
}

func (t *Transport) adminError(ctx context.Context, chatID int64, err error) string {
	switch {
	case errors.Is(err, admin.ErrNotAdmin):
		return msgNotAdmin
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "Invalid amount."
	case errors.Is(err, ledger.ErrInvalidDays):
		return "Invalid number of days."
	case errors.Is(err, ledger.ErrInvalidInput):
		return "Invalid input."
	default:
		t.logger(ctx).Error("admin action failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		return msgTryLater
	}
}

func (t *Transport) adminMenu(ctx context.Context, chatID, caller int64, messageID int) {
	ov, err := t.console.Overview(ctx, caller)
	if err != nil {
		t.send(ctx, chatID, t.adminError(ctx, chatID, err), nil)
		return
	}
	text, kb := adminMenu(ov)
	t.reply(ctx, chatID, messageID, text, kb)
}

// adminCallback runs an admin button and returns the callback answer text.
func (t *Transport) adminCallback(ctx context.Context, chatID int64, messageID int, caller int64, cb Callback) string {
	if !t.console.IsAdmin(caller) {
		return msgNotAdmin
	}
	var (
		acc ledger.Account
		err error
	)
	switch cb.Action {
	case ActMenu:
		t.adminMenu(ctx, chatID, caller, messageID)
		return ""
	case ActUsers:
		page, err := t.console.Users(ctx, caller, cb.Offset)
		if err != nil {
			return t.adminError(ctx, chatID, err)
		}
		text, kb := usersPage(page)
		t.reply(ctx, chatID, messageID, text, kb)
		return ""
	case ActPremium:
		list, err := t.console.Premium(ctx, caller)
		if err != nil {
			return t.adminError(ctx, chatID, err)
		}
		t.reply(ctx, chatID, messageID, premiumText(list), &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{backToMenu()},
		})
		return ""
	case ActBroadcast:
		return t.begin(ctx, chatID, caller, admin.AwaitingBroadcastText{})
	case ActFind:
		return t.begin(ctx, chatID, caller, admin.AwaitingTargetUserID{})
	case ActCustomCredit:
		return t.begin(ctx, chatID, caller, admin.AwaitingAmount{TargetID: cb.UserID, Offset: cb.Offset})
	case ActCustomValid:
		return t.begin(ctx, chatID, caller, admin.AwaitingDays{TargetID: cb.UserID, Offset: cb.Offset})
	case ActCancel:
		if err := t.console.Cancel(ctx, caller); err != nil {
			return t.adminError(ctx, chatID, err)
		}
		return "Cancelled."
	case ActUser:
		acc, err = t.console.Card(ctx, caller, cb.UserID)
	case ActAdd:
		acc, err = t.console.Grant(ctx, caller, cb.UserID, cb.N)
	case ActRemove:
		acc, err = t.console.Revoke(ctx, caller, cb.UserID, cb.N)
	case ActValidity:
		acc, err = t.console.SetValidity(ctx, caller, cb.UserID, int(cb.N))
	case ActClearValid:
		acc, err = t.console.ClearValidity(ctx, caller, cb.UserID)
	default:
		return ""
	}
	if err != nil {
		return t.adminError(ctx, chatID, err)
	}
	text, kb := userCard(acc, cb.Offset)
	t.reply(ctx, chatID, messageID, text, kb)
	if cb.Action == ActUser {
		return ""
	}
	return "Saved."
}

func (t *Transport) begin(ctx context.Context, chatID, caller int64, p admin.Pending) string {
	if err := t.console.Begin(ctx, caller, p); err != nil {
		return t.adminError(ctx, chatID, err)
	}
	t.send(ctx, chatID, promptText(p), nil)
	return ""
}

func (t *Transport) completeAdmin(ctx context.Context, chatID, caller int64, text string) {
	res, err := t.console.Complete(ctx, caller, text)
	if err != nil {
		t.send(ctx, chatID, t.adminError(ctx, chatID, err), nil)
		return
	}
	if res.Report != nil {
		t.send(ctx, chatID, broadcastText(*res.Report), nil)
		return
	}
	card, kb := userCard(res.Account, res.Offset)
	t.send(ctx, chatID, card, kb)
}
