package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"habitly/internal/types"
)

// SafeSend invokes provider.Send bounded by timeout and converts a panic or
// an expired deadline into a failed SendResult. A zero timeout leaves ctx
// unchanged.
func SafeSend(ctx context.Context, provider types.NotificationProvider, payload *types.NotificationPayload, timeout time.Duration, logger types.Logger) (res types.SendResult) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res      types.SendResult
		panicked any
		stack    []byte
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{panicked: rec, stack: debug.Stack()}
			}
		}()
		done <- outcome{res: provider.Send(ctx, payload)}
	}()

	select {
	case o := <-done:
		if o.panicked != nil {
			logger.Error("provider panic",
				"channel", string(provider.Channel()),
				"reminder_id", payload.ReminderID,
				"panic", o.panicked,
				"stack", string(o.stack),
			)
			return types.Failed(fmt.Sprintf("provider panic: %v", o.panicked), "provider_panic")
		}
		return o.res
	case <-ctx.Done():
		code := "provider_cancelled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = "provider_timeout"
		}
		return types.Failed(fmt.Sprintf("provider call aborted: %v", ctx.Err()), code)
	}
}
