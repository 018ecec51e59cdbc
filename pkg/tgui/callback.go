package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes,
// counted over the full "scope:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "scope:action:payload".
func Data(scope, action, payload string) (string, error) {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	out := scope + ":" + action
	if payload != "" {
		out += ":" + payload
	}
	if len(out) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return out, nil
}
