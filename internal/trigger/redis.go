package trigger

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ingest-worker-service/internal/entity"
)

// Redis publishes kicks on a pub/sub channel so workers in other processes wake up.
type Redis struct {
	rdb     *redis.Client
	channel string
	log     *zap.SugaredLogger
}

func NewRedis(rdb *redis.Client, channel string, log *zap.SugaredLogger) *Redis {
	return &Redis{rdb: rdb, channel: channel, log: log.With("component", "trigger")}
}

func (r *Redis) Kick(ctx context.Context, typ entity.JobType) error {
	if err := r.rdb.Publish(ctx, r.channel, string(typ)).Err(); err != nil {
		return errors.Wrapf(err, "publish kick to %s", r.channel)
	}
	return nil
}

func (r *Redis) Listen(ctx context.Context) <-chan entity.JobType {
	out := make(chan entity.JobType, 8)
	sub := r.rdb.Subscribe(ctx, r.channel)

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				typ := entity.JobType(msg.Payload)
				if !typ.Valid() {
					r.log.Warnw("ignoring kick", "payload", msg.Payload)
					continue
				}
				select {
				case out <- typ:
				default:
				}
			}
		}
	}()
	return out
}
