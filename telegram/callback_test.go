package telegram

import (
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishowlab-boop/CircleMakerProBot/admin"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

func TestCallbackEncodeParse(t *testing.T) {
	cases := []Callback{
		{Admin: true, Action: ActMenu},
		{Admin: true, Action: ActUsers, Offset: 20},
		{Admin: true, Action: ActUser, UserID: 123456789, Offset: 10},
		{Admin: true, Action: ActAdd, UserID: 5, N: 10, Offset: 0},
		{Admin: true, Action: ActRemove, UserID: 5, N: 1, Offset: 30},
		{Admin: true, Action: ActValidity, UserID: 5, N: 90, Offset: 0},
		{Admin: true, Action: ActClearValid, UserID: 5},
		{Action: ActStatus},
	}
	for _, c := range cases {
		data := c.Encode()
		assert.LessOrEqual(t, len(data), 64, data)
		got, err := ParseCallback(data)
		require.NoError(t, err, data)
		assert.Equal(t, c, got)
	}
}

func TestParseCallbackRejectsGarbage(t *testing.T) {
	for _, data := range []string{"", "adm", "x:menu", "adm:add:1:2", "adm:user:a:0", "adm:users:-10", "u:status:1"} {
		_, err := ParseCallback(data)
		assert.Error(t, err, data)
	}
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2025, 3, 7, 23, 0, 0, 0, time.FixedZone("X", 3*3600))
	assert.Equal(t, "Friday, 07 Mar 2025", FormatDate(&ts))
	assert.Equal(t, "—", FormatDate(nil))
}

func TestUserCardButtons(t *testing.T) {
	_, kb := userCard(ledger.Account{UserID: 9, Balance: 3}, 20)
	var datas []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			datas = append(datas, b.CallbackData)
		}
	}
	assert.Contains(t, datas, "adm:add:9:5:20")
	assert.Contains(t, datas, "adm:rem:9:10:20")
	assert.Contains(t, datas, "adm:valid:9:30:20")
	assert.Contains(t, datas, "adm:users:20")
}

func TestUsersPageNavigation(t *testing.T) {
	page := admin.UserPage{Accounts: make([]ledger.Account, 10), Offset: 10, Total: 25}
	_, kb := usersPage(page)
	nav := kb.InlineKeyboard[len(kb.InlineKeyboard)-2]
	require.Len(t, nav, 2)
	assert.Equal(t, "adm:users:0", nav[0].CallbackData)
	assert.Equal(t, "adm:users:20", nav[1].CallbackData)
}

func TestStatusTextEscapes(t *testing.T) {
	until := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	text := statusText(ledger.Account{Balance: 4, ValidUntil: &until}, Links{AdminContacts: "<b>x</b>"})
	assert.Contains(t, text, "Credits: <b>4</b>")
	assert.Contains(t, text, "Wednesday, 01 Jan 2025")
	assert.Contains(t, text, "&lt;b&gt;x&lt;/b&gt;")
}

func TestMembershipRestricted(t *testing.T) {
	api := &fakeAPI{member: models.ChatMember{Type: models.ChatMemberTypeRestricted, Restricted: &models.ChatMemberRestricted{IsMember: true}}}
	ok, err := NewMembership(api).IsMember(t.Context(), "-100123", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewMembership(api).IsMember(t.Context(), "", 5)
	assert.Error(t, err)
}
