package relay

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidChatID   = errors.New("invalid chat id")
)
