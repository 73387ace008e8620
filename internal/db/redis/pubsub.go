package redis

import (
	"context"
	"errors"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/db"
	"github.com/kailas-cloud/cmskit/internal/logger"
)

// Publish sends payload to every subscriber of channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	cmd := s.b().Publish().Channel(channel).Message(string(payload)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpPublish, Err: err}
	}
	return nil
}

// Subscribe receives the messages of channel on a background goroutine.
// The returned function unsubscribes and waits for the goroutine to exit.
func (s *Store) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	cmd := s.b().Subscribe().Channel(channel).Build()

	go func() {
		defer close(done)
		err := s.client.Receive(ctx, cmd, func(msg rueidis.PubSubMessage) {
			fn([]byte(msg.Message))
		})
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			logger.FromContext(ctx).Warn("Subscription ended",
				zap.String("channel", channel),
				zap.Error(&db.Error{Op: db.OpSubscribe, Err: err}),
			)
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}
