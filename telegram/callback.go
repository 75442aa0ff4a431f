package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Callback actions.
const (
	ActMenu         = "menu"
	ActUsers        = "users"
	ActUser         = "user"
	ActAdd          = "add"
	ActRemove       = "rem"
	ActValidity     = "valid"
	ActClearValid   = "vrem"
	ActCustomCredit = "ccredit"
	ActCustomValid  = "cvalid"
	ActPremium      = "premium"
	ActBroadcast    = "bcast"
	ActFind         = "find"
	ActCancel       = "cancel"

	ActStatus = "status"
	ActFree   = "free"
)

const (
	adminPrefix = "adm"
	userPrefix  = "u"
)

var errBadCallback = errors.New("telegram: malformed callback data")

// Callback is decoded inline button data.
type Callback struct {
	Admin  bool
	Action string
	UserID int64
	N      int64
	Offset int
}

// Encode returns the callback data string, at most 64 bytes.
func (c Callback) Encode() string {
	if !c.Admin {
		return userPrefix + ":" + c.Action
	}
	switch c.Action {
	case ActUsers:
		return fmt.Sprintf("%s:%s:%d", adminPrefix, c.Action, c.Offset)
	case ActUser, ActClearValid, ActCustomCredit, ActCustomValid:
		return fmt.Sprintf("%s:%s:%d:%d", adminPrefix, c.Action, c.UserID, c.Offset)
	case ActAdd, ActRemove, ActValidity:
		return fmt.Sprintf("%s:%s:%d:%d:%d", adminPrefix, c.Action, c.UserID, c.N, c.Offset)
	default:
		return adminPrefix + ":" + c.Action
	}
}

// ParseCallback decodes data produced by Encode.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return Callback{}, errBadCallback
	}
	switch parts[0] {
	case userPrefix:
		if len(parts) != 2 {
			return Callback{}, errBadCallback
		}
		return Callback{Action: parts[1]}, nil
	case adminPrefix:
	default:
		return Callback{}, errBadCallback
	}

	c := Callback{Admin: true, Action: parts[1]}
	args := parts[2:]
	nums := make([]int64, len(args))
	for i, a := range args {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return Callback{}, errBadCallback
		}
		nums[i] = n
	}

	want := map[string]int{
		ActUsers: 1, ActUser: 2, ActClearValid: 2, ActCustomCredit: 2, ActCustomValid: 2,
		ActAdd: 3, ActRemove: 3, ActValidity: 3,
	}[c.Action]
	if len(nums) != want {
		return Callback{}, errBadCallback
	}
	switch want {
	case 1:
		c.Offset = int(nums[0])
	case 2:
		c.UserID, c.Offset = nums[0], int(nums[1])
	case 3:
		c.UserID, c.N, c.Offset = nums[0], nums[1], int(nums[2])
	}
	if c.Offset < 0 || c.N < 0 {
		return Callback{}, errBadCallback
	}
	return c, nil
}
