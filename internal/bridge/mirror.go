// Package bridge holds kvbusd's optional outbound bridges: components
// that sit beside the core RESP server and mirror its traffic onto an
// external system for downstream consumers, never on the hot command
// path. Mirror is the Redis half, grounded on the teacher's
// store/redis.Writer connect-then-ping shape and internal/gateway.Hub's
// PubSub usage, generalized from candle writes to a plain pass-through
// PUBLISH relay.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"kvbus/internal/metrics"
	"kvbus/internal/store"
)

// MirrorConfig configures the Redis mirror bridge.
type MirrorConfig struct {
	Addr     string
	Password string
	DB       int
}

// Mirror republishes every message kvbus's store fans out locally onto
// a real Redis instance's pub/sub channels, best-effort and one-way:
// a write failure never blocks or fails the originating PUBLISH.
type Mirror struct {
	client  *goredis.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewMirror connects to cfg.Addr and pings it before returning, the
// same fail-fast shape store/redis.Writer uses.
func NewMirror(cfg MirrorConfig, log *slog.Logger, m *metrics.Metrics) (*Mirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("bridge: redis ping: %w", err)
	}

	return &Mirror{client: client, log: log, metrics: m}, nil
}

// Attach installs the mirror as s's publish sink; every PUBLISH kvbus
// handles, from any connection, is republished onto the same channel
// name on the mirrored Redis instance.
func (m *Mirror) Attach(s *store.Store) {
	s.SetMirror(m.publish)
}

// Detach removes the mirror sink. s continues operating normally.
func (m *Mirror) Detach(s *store.Store) {
	s.SetMirror(nil)
}

func (m *Mirror) publish(channel string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.client.Publish(ctx, channel, payload).Err(); err != nil {
		m.log.Warn("mirror publish failed", slog.String("channel", channel), slog.Any("err", err))
		if m.metrics != nil {
			m.metrics.MirrorWriteErrors.Inc()
		}
	}
}

// Close releases the underlying Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
