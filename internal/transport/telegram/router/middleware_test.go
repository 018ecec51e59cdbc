package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

func TestMiddlewareStack(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		timeout time.Duration
		h       HandlerFunc
		check   func(error) bool
	}{
		{
			name:  "ok passes through",
			h:     func(context.Context, *Request) error { return nil },
			check: func(err error) bool { return err == nil },
		},
		{
			name: "panic becomes internal error",
			h:    func(context.Context, *Request) error { panic("boom") },
			check: func(err error) bool {
				return errors.Is(err, ErrInternal) && !strings.Contains(err.Error(), "boom")
			},
		},
		{
			name:    "own deadline is reported",
			timeout: 20 * time.Millisecond,
			h: func(ctx context.Context, _ *Request) error {
				<-ctx.Done()
				return ctx.Err()
			},
			check: func(err error) bool { return err != nil && strings.Contains(err.Error(), "timed out after 20ms") },
		},
		{
			name:    "handler error is kept",
			timeout: time.Second,
			h:       func(context.Context, *Request) error { return errors.New("chat not found") },
			check:   func(err error) bool { return err != nil && err.Error() == "chat not found" },
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := &Request{Command: "interval", Args: []string{"5", "second"}, Logger: logx.Nop()}
			if err := wrap(tc.h, logx.Nop(), tc.timeout)(context.Background(), req); !tc.check(err) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestTimeoutKeepsParentCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := MWTimeout(time.Second)(func(ctx context.Context, _ *Request) error { return ctx.Err() })
	if err := h(ctx, &Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
