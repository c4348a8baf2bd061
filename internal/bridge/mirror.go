// Package bridge republishes live chat events on Redis so other services can
// follow an agent session.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/realtime"
)

const (
	DefaultPrefix  = "sozuri:chat"
	publishTimeout = 2 * time.Second
)

// Publisher is the slice of the Redis client the mirror uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Mirror publishes every event it receives to <prefix>:<event type>, encoded
// in the same {type, data} form the socket delivers.
type Mirror struct {
	pub    Publisher
	prefix string
	log    *logger.Logger
}

func NewMirror(pub Publisher, prefix string, log *logger.Logger) *Mirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Mirror{pub: pub, prefix: prefix, log: log.Component("bridge")}
}

// Dial connects to the Redis server at rawURL and checks it answers.
func Dial(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (m *Mirror) Channel(t realtime.EventType) string {
	return m.prefix + ":" + string(t)
}

// Handle is a realtime.Listener.
func (m *Mirror) Handle(ev realtime.Event) {
	data, err := realtime.EncodeEvent(ev)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	channel := m.Channel(ev.Type())
	if err := m.pub.Publish(ctx, channel, string(data)).Err(); err != nil {
		m.log.Warn().Err(err).Str("channel", channel).Msg("failed to publish event")
	}
}
