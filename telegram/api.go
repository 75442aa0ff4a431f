// Package telegram is the chat transport: it turns bot updates into ledger,
// conversion and admin calls and renders their results.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ishowlab-boop/CircleMakerProBot/convert"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

// MaxDownloadBytes is the Bot API limit for getFile downloads.
const MaxDownloadBytes = 20 << 20

// API is the subset of *bot.Bot used by this package.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	SendVideoNote(ctx context.Context, params *bot.SendVideoNoteParams) (*models.Message, error)
	SendVoice(ctx context.Context, params *bot.SendVoiceParams) (*models.Message, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

var _ API = (*bot.Bot)(nil)

// ErrFileTooBig rejects uploads the Bot API will not serve.
var ErrFileTooBig = errors.New("telegram: file is too big to download")

// Files downloads uploads through getFile.
type Files struct {
	api    API
	client *http.Client
}

// NewFiles returns a Fetcher backed by api.
func NewFiles(api API) *Files {
	return &Files{api: api, client: &http.Client{Timeout: 60 * time.Second}}
}

// Fetch resolves m and writes its bytes to dst.
func (f *Files) Fetch(ctx context.Context, m convert.Media, dst string) error {
	if m.Size > MaxDownloadBytes {
		return ErrFileTooBig
	}
	file, err := f.api.GetFile(ctx, &bot.GetFileParams{FileID: m.FileID})
	if err != nil {
		return fmt.Errorf("get file: %w", err)
	}
	if file.FileSize > MaxDownloadBytes {
		return ErrFileTooBig
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.api.FileDownloadLink(file), nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if n > MaxDownloadBytes {
		return ErrFileTooBig
	}
	return nil
}

// Outbox sends finished files and plain texts.
type Outbox struct {
	api      API
	noteSize int
}

// NewOutbox returns a Deliverer and broadcast Sender backed by api.
func NewOutbox(api API, noteSize int) *Outbox {
	return &Outbox{api: api, noteSize: noteSize}
}

// Deliver uploads path as a video note or a voice message.
func (o *Outbox) Deliver(ctx context.Context, chatID int64, kind ledger.MediaKind, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	switch kind {
	case ledger.KindVideo:
		_, err = o.api.SendVideoNote(ctx, &bot.SendVideoNoteParams{
			ChatID:    chatID,
			VideoNote: &models.InputFileUpload{Filename: "note.mp4", Data: f},
			Length:    o.noteSize,
		})
	case ledger.KindVoice:
		_, err = o.api.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID: chatID,
			Voice:  &models.InputFileUpload{Filename: "voice.ogg", Data: f},
		})
	default:
		err = convert.ErrUnsupportedKind
	}
	return err
}

// SendText sends an HTML message.
func (o *Outbox) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := o.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return err
}

// Membership checks channel membership with getChatMember.
type Membership struct {
	api API
}

// NewMembership returns a MembershipOracle backed by api.
func NewMembership(api API) *Membership { return &Membership{api: api} }

// IsMember reports whether userID is a current member of channelID, which
// may be "@username" or a numeric chat id.
func (m *Membership) IsMember(ctx context.Context, channelID string, userID int64) (bool, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return false, errors.New("telegram: no required channel configured")
	}
	var chat any = channelID
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		chat = id
	}
	member, err := m.api.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chat, UserID: userID})
	if err != nil {
		return false, err
	}
	switch member.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator, models.ChatMemberTypeMember:
		return true, nil
	case models.ChatMemberTypeRestricted:
		return member.Restricted != nil && member.Restricted.IsMember, nil
	default:
		return false, nil
	}
}

var (
	_ convert.Fetcher         = (*Files)(nil)
	_ convert.Deliverer       = (*Outbox)(nil)
	_ ledger.MembershipOracle = (*Membership)(nil)
)
