// README: Redis Streams sink; appends every event to a capped stream for external consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	streamKey    = "ridepool:events"
	streamMaxLen = 10000
	sinkTimeout  = 2 * time.Second
)

type RedisSink struct {
	rdb *redis.Client
	log *logrus.Logger
}

func NewRedisSink(rdb *redis.Client, log *logrus.Logger) *RedisSink {
	return &RedisSink{rdb: rdb, log: log}
}

func (s *RedisSink) Handle(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	body, err := json.Marshal(e)
	if err != nil {
		s.log.WithError(err).WithField("kind", e.Kind).Error("redis sink: marshal event")
		return
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"kind": string(e.Kind), "event": body},
	}).Err()
	if err != nil {
		s.log.WithError(err).WithField("kind", e.Kind).Warn("redis sink: xadd failed")
	}
}
