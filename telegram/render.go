package telegram

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/ishowlab-boop/CircleMakerProBot/admin"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

// DateLayout renders validity dates, always in UTC.
const DateLayout = "Monday, 02 Jan 2006"

// Links are the support and contact references shown to users.
type Links struct {
	VoiceSupport  string
	ModelSupport  string
	AdminContacts string
	Channel       string
}

// FormatDate renders t in DateLayout, or "—" when unset.
func FormatDate(t *time.Time) string {
	if t == nil {
		return "—"
	}
	return t.UTC().Format(DateLayout)
}

func displayName(a ledger.Account) string {
	switch {
	case a.Username != "":
		return "@" + html.EscapeString(a.Username)
	case a.FirstName != "":
		return html.EscapeString(a.FirstName)
	default:
		return strconv.FormatInt(a.UserID, 10)
	}
}

func btn(text string, cb Callback) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{Text: text, CallbackData: cb.Encode()}
}

func userMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{btn("💳 My status", Callback{Action: ActStatus}), btn("🎁 Free credits", Callback{Action: ActFree})},
	}}
}

func welcomeText(name string, freeCredits int64, links Links) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s!\n\n", html.EscapeString(name))
	b.WriteString("Send me a video and I will turn it into a round video note.\n")
	b.WriteString("Send me audio or a voice message and I will return a compressed voice note.\n\n")
	b.WriteString("Every conversion costs credits. Failed conversions are refunded automatically.\n")
	if links.Channel != "" && freeCredits > 0 {
		fmt.Fprintf(&b, "Join %s and tap <b>Free credits</b> to get %d credits.\n", html.EscapeString(links.Channel), freeCredits)
	}
	return b.String()
}

func statusText(a ledger.Account, links Links) string {
	var b strings.Builder
	b.WriteString("<b>Your account</b>\n")
	fmt.Fprintf(&b, "Credits: <b>%d</b>\n", a.Balance)
	if a.ValidUntil != nil {
		fmt.Fprintf(&b, "Valid from: %s\n", FormatDate(a.ValidFrom))
		fmt.Fprintf(&b, "Valid until: %s\n", FormatDate(a.ValidUntil))
	}
	fmt.Fprintf(&b, "Video notes made: %d\n", a.VideosMade)
	fmt.Fprintf(&b, "Voice notes made: %d\n", a.VoicesMade)
	if links.VoiceSupport != "" {
		fmt.Fprintf(&b, "\nVoice support: %s", html.EscapeString(links.VoiceSupport))
	}
	if links.ModelSupport != "" {
		fmt.Fprintf(&b, "\nModel support: %s", html.EscapeString(links.ModelSupport))
	}
	if links.AdminContacts != "" {
		fmt.Fprintf(&b, "\nBuy credits: %s", html.EscapeString(links.AdminContacts))
	}
	return b.String()
}

func insufficientText(balance, required int64, links Links) string {
	s := fmt.Sprintf("Not enough credits. Balance: <b>%d</b>, required: <b>%d</b>.", balance, required)
	if links.AdminContacts != "" {
		s += "\nTo buy credits contact " + html.EscapeString(links.AdminContacts)
	}
	return s
}

const (
	msgDone          = "Done!"
	msgConvertFailed = "Conversion failed. Your credit was refunded, please try again."
	msgConvertFatal  = "This file could not be converted. Your credit was refunded."
	msgRefundFailed  = "Conversion failed and the refund could not be recorded. An admin has been notified."
	msgTryLater      = "Something went wrong on our side. Please try again later."
	msgUnsupported   = "Please send a video, an audio file or a voice message."
	msgNotAdmin      = "You are not allowed to use the admin panel."
	msgAlreadyClaim  = "You have already claimed your free credits."
	msgNotSubscribed = "Join the channel first, then tap Free credits again."
)

func claimedText(a ledger.Account) string {
	return fmt.Sprintf("Free credits added. Balance: <b>%d</b>.", a.Balance)
}

func doneText(a ledger.Account) string {
	return fmt.Sprintf("Done! Credits left: <b>%d</b>.", a.Balance)
}

func adminMenu(ov admin.Overview) (string, *models.InlineKeyboardMarkup) {
	text := fmt.Sprintf("<b>Admin panel</b>\nUsers: %d\nActive validity: %d", ov.Accounts, ov.ActiveValidity)
	kb := &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{btn("👥 Users", Callback{Admin: true, Action: ActUsers}), btn("⭐ Premium", Callback{Admin: true, Action: ActPremium})},
		{btn("🔎 Find user", Callback{Admin: true, Action: ActFind}), btn("📣 Broadcast", Callback{Admin: true, Action: ActBroadcast})},
	}}
	return text, kb
}

func backToMenu() []models.InlineKeyboardButton {
	return []models.InlineKeyboardButton{btn("⬅️ Menu", Callback{Admin: true, Action: ActMenu})}
}

func usersPage(p admin.UserPage) (string, *models.InlineKeyboardMarkup) {
	text := fmt.Sprintf("<b>Users</b> %d–%d of %d", min(p.Offset+1, p.Total), p.Offset+len(p.Accounts), p.Total)
	rows := make([][]models.InlineKeyboardButton, 0, len(p.Accounts)+2)
	for _, a := range p.Accounts {
		label := fmt.Sprintf("%s · %d cr", plainName(a), a.Balance)
		rows = append(rows, []models.InlineKeyboardButton{
			btn(label, Callback{Admin: true, Action: ActUser, UserID: a.UserID, Offset: p.Offset}),
		})
	}
	var nav []models.InlineKeyboardButton
	if p.HasPrev() {
		nav = append(nav, btn("◀️ Prev", Callback{Admin: true, Action: ActUsers, Offset: max(p.Offset-admin.PageSize, 0)}))
	}
	if p.HasNext() {
		nav = append(nav, btn("Next ▶️", Callback{Admin: true, Action: ActUsers, Offset: p.Offset + admin.PageSize}))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, backToMenu())
	return text, &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func plainName(a ledger.Account) string {
	switch {
	case a.Username != "":
		return "@" + a.Username
	case a.FirstName != "":
		return a.FirstName
	default:
		return strconv.FormatInt(a.UserID, 10)
	}
}

func userCard(a ledger.Account, offset int) (string, *models.InlineKeyboardMarkup) {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>User</b> %s\nID: <code>%d</code>\n", displayName(a), a.UserID)
	fmt.Fprintf(&b, "Credits: <b>%d</b>\n", a.Balance)
	fmt.Fprintf(&b, "Videos made: %d\nVoices made: %d\n", a.VideosMade, a.VoicesMade)
	fmt.Fprintf(&b, "Start: %s\nEnd: %s\n", FormatDate(a.ValidFrom), FormatDate(a.ValidUntil))
	fmt.Fprintf(&b, "Free claimed: %t\nLast seen: %s", a.FreeClaimed, a.LastSeen.UTC().Format(time.RFC3339))

	cb := func(action string, n int64) Callback {
		return Callback{Admin: true, Action: action, UserID: a.UserID, N: n, Offset: offset}
	}
	rows := [][]models.InlineKeyboardButton{
		{btn("+1", cb(ActAdd, 1)), btn("+5", cb(ActAdd, 5)), btn("+10", cb(ActAdd, 10))},
		{btn("-1", cb(ActRemove, 1)), btn("-5", cb(ActRemove, 5)), btn("-10", cb(ActRemove, 10))},
		{btn("7d", cb(ActValidity, 7)), btn("30d", cb(ActValidity, 30)), btn("90d", cb(ActValidity, 90))},
		{btn("✏️ Credits", cb(ActCustomCredit, 0)), btn("✏️ Days", cb(ActCustomValid, 0)), btn("🗑 Validity", cb(ActClearValid, 0))},
		{btn("⬅️ Users", Callback{Admin: true, Action: ActUsers, Offset: offset})},
	}
	return b.String(), &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func premiumText(list []ledger.Account) string {
	if len(list) == 0 {
		return "No users with active validity."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Active validity</b> (%d)\n", len(list))
	for i, a := range list {
		fmt.Fprintf(&b, "%d. %s · %d cr · until %s\n", i+1, displayName(a), a.Balance, FormatDate(a.ValidUntil))
	}
	return b.String()
}

func promptText(p admin.Pending) string {
	switch p.(type) {
	case admin.AwaitingAmount:
		return "Send the credit change, e.g. <code>+50</code> or <code>-20</code>. /cancel to abort."
	case admin.AwaitingDays:
		return "Send the validity length in days, e.g. <code>30</code>. /cancel to abort."
	case admin.AwaitingBroadcastText:
		return "Send the message to broadcast to every user. /cancel to abort."
	case admin.AwaitingTargetUserID:
		return "Send the user ID to open. /cancel to abort."
	default:
		return ""
	}
}

func broadcastText(r admin.Report) string {
	return fmt.Sprintf("Broadcast finished.\nTotal: %d\nSent: %d\nFailed: %d", r.Total, r.Sent, r.Failed)
}
