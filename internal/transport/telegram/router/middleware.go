package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "relaybot/pkg/logx"
)

// Requests slower than this are logged at info instead of debug.
const slowRequest = 750 * time.Millisecond

// ErrInternal is what the user sees when a handler panics.
var ErrInternal = errors.New("internal error, see logs")

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// wrap applies the stack every command and callback runs under.
func wrap(h HandlerFunc, log logx.Logger, timeout time.Duration) HandlerFunc {
	return Chain(h, MWPanicRecover(log), MWRequestLog(log), MWTimeout(timeout))
}

// MWTimeout bounds the handler. A handler that runs out of its own budget
// gets a readable error; a cancelled parent is passed through untouched.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := next(cctx, req)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("timed out after %s", d)
			}
			return err
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLog(log, req).Error("handler panic recovered",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = ErrInternal
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog records outcome and latency. Chat, sender and route are
// already on the request logger.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{logx.String("kind", string(req.Update.Kind)), logx.Duration("dur", d)}
			if len(req.Args) > 0 {
				fields = append(fields, logx.Int("args", len(req.Args)))
			}
			if req.Payload != "" {
				fields = append(fields, logx.String("payload", req.Payload))
			}
			l := reqLog(log, req)
			switch {
			case err != nil:
				l.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= slowRequest:
				l.Info("slow request", fields...)
			default:
				l.Debug("request ok", fields...)
			}
			return err
		}
	}
}

func reqLog(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}
