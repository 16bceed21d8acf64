package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/sportsblock/sportsblock/internal/chain/monitor"
	"github.com/sportsblock/sportsblock/internal/system"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// EventsChannel is the redis pub/sub channel carrying chain events.
const EventsChannel = "sportsblock:events"

// TopicEvents receives every event; per-account topics receive the subset
// addressed to that account.
const TopicEvents = "events"

// AccountTopic returns the hub topic for one account's events.
func AccountTopic(account string) string {
	return "account:" + account
}

// Publisher pushes monitor events onto the redis channel.
type Publisher struct {
	rdb *redis.Client
}

var _ monitor.Publisher = (*Publisher)(nil)

// NewPublisher creates a Publisher on rdb.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, ev monitor.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, EventsChannel, payload).Err()
}

var _ system.Service = (*Subscriber)(nil)

// Subscriber bridges the redis channel into the hub.
type Subscriber struct {
	rdb *redis.Client
	hub *Hub
	log *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSubscriber creates a lifecycle-managed Subscriber.
func NewSubscriber(rdb *redis.Client, hub *Hub, log *logger.Logger) *Subscriber {
	if log == nil {
		log = logger.NewDefault("realtime-subscriber")
	}
	return &Subscriber{rdb: rdb, hub: hub, log: log}
}

func (s *Subscriber) Name() string { return "realtime-subscriber" }

func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	sub := s.rdb.Subscribe(runCtx, EventsChannel)
	ch := sub.Channel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.dispatch([]byte(msg.Payload))
			}
		}
	}()

	s.log.WithField("channel", EventsChannel).Info("realtime subscriber started")
	return nil
}

func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("realtime subscriber stopped")
	return nil
}

func (s *Subscriber) dispatch(payload []byte) {
	var ev monitor.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.WithError(err).Warn("drop malformed event")
		return
	}
	s.hub.Broadcast(TopicEvents, payload)
	if ev.Account != "" {
		s.hub.Broadcast(AccountTopic(ev.Account), payload)
	}
}
