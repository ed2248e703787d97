package events

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var newBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Listen feeds every change from bus to handle until ctx is done. A dropped
// subscription is re-established with exponential backoff and resync is
// called once it is back, since changes published while disconnected are lost.
func Listen(ctx context.Context, bus Bus, log *zap.Logger, handle func(Change), resync func()) {
	b := backoff.WithContext(newBackOff(), ctx)
	first := true

	for {
		var ch <-chan Change
		err := backoff.Retry(func() error {
			c, err := bus.Subscribe(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				log.Warn("change subscription failed", zap.Error(err))
				return err
			}
			ch = c
			return nil
		}, b)
		if err != nil {
			return
		}

		if !first && resync != nil {
			log.Info("change subscription restored, resyncing")
			resync()
		}
		first = false
		b.Reset()

		for c := range ch {
			handle(c)
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("change subscription dropped")
	}
}
