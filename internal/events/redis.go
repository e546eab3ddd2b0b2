package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	publishQueueSize = 256
	publishTimeout   = 2 * time.Second
	closeTimeout     = 5 * time.Second
	sinkRedis        = "redis"
)

type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// redisPublisher forwards progress events to a redis channel from a single
// worker. Events are dropped when the queue is full.
type redisPublisher struct {
	cl      Publisher
	channel string
	queue   chan Event

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	log *slog.Logger
}

func NewRedisPublisher(cl Publisher, channel string, log *slog.Logger) *redisPublisher {
	return &redisPublisher{
		cl:      cl,
		channel: channel,
		queue:   make(chan Event, publishQueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log.With(slog.String("item", "RedisPublisher"), slog.String("channel", channel)),
	}
}

// Start runs the worker until ctx is done or Close is called.
func (p *redisPublisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started.Store(true)

		go func() {
			defer close(p.done)

			for {
				select {
				case <-ctx.Done():
					return
				case <-p.stop:
					p.drain(context.WithoutCancel(ctx))
					return
				case e := <-p.queue:
					p.publish(ctx, e)
				}
			}
		}()
	})
}

// Close publishes the events still queued and stops the worker. It waits at
// most closeTimeout.
func (p *redisPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
	})

	if !p.started.Load() {
		return
	}

	select {
	case <-p.done:
	case <-time.After(closeTimeout):
		p.log.Warn("Timed out flushing events", slog.Int("queued", len(p.queue)))
	}
}

func (p *redisPublisher) drain(ctx context.Context) {
	for {
		select {
		case e := <-p.queue:
			p.publish(ctx, e)
		default:
			return
		}
	}
}

func (p *redisPublisher) publish(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.log.Error("Cannot marshal event", slog.Any("error", err))

		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.cl.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Warn("Cannot publish event", slog.Any("error", err))
		metrics.RecordDroppedEvent(sinkRedis)
	}
}

func (p *redisPublisher) enqueue(e Event) {
	select {
	case p.queue <- e:
	default:
		metrics.RecordDroppedEvent(sinkRedis)
	}
}

func (p *redisPublisher) ModProgress(pr entity.ModProgress) {
	p.enqueue(ModEvent(pr))
}

func (p *redisPublisher) RepoProgress(pr entity.RepoProgress) {
	p.enqueue(RepoEvent(pr))
}
