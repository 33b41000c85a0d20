package feed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
)

// Drivers accepted by New
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Options selects and configures a feed transport
type Options struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BufferSize    int
}

// Transport is a running feed plus its shutdown hook
type Transport struct {
	// Hub is set for the memory driver only
	Hub *Hub

	feed    interfaces.Feed
	closeFn func() error
}

// New builds the configured transport; the memory hub is started on ctx
func New(ctx context.Context, opts Options) (*Transport, error) {
	switch opts.Driver {
	case "", DriverMemory:
		hub := NewHub(opts.BufferSize)
		if err := hub.Start(ctx); err != nil {
			return nil, err
		}
		return &Transport{Hub: hub, feed: hub, closeFn: func() error {
			if !hub.IsRunning() {
				return nil
			}
			return hub.Stop()
		}}, nil

	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return &Transport{feed: NewRedisFeed(client, opts.BufferSize), closeFn: client.Close}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// Feed returns the publish/subscribe surface
func (t *Transport) Feed() interfaces.Feed {
	return t.feed
}

// Close shuts the transport down
func (t *Transport) Close() error {
	return t.closeFn()
}
