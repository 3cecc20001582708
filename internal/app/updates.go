package app

import (
	"context"

	"noticebot/internal/registration"
	"noticebot/pkg/logx"
)

// dispatchUpdates turns polled messages into registration callbacks.
func (a *App) dispatchUpdates(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-a.updates:
			if !ok {
				return nil
			}
			ev, ok := registration.EventFromUpdate(up)
			if !ok {
				continue
			}
			cctx, cancel := context.WithTimeout(ctx, callbackTimeout)
			res, err := a.reg.HandleCallback(cctx, ev)
			cancel()
			if err != nil {
				a.log.Warn("registration from update failed", logx.String("address", ev.Address), logx.Err(err))
				continue
			}
			a.log.Debug("update handled", logx.String("address", ev.Address), logx.String("status", res.Status))
		}
	}
}
