package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/policyguard/internal/observability"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// ErrPolicyNotFound is returned when the policy key does not exist.
var ErrPolicyNotFound = errors.New("policy document not found")

// RedisSource loads the policy document stored under a Redis key and
// reloads it whenever a message is published on the update channel. The
// message payload is ignored; the key is always re-read.
type RedisSource struct {
	client   redis.UniversalClient
	key      string
	channel  string
	reloader *Reloader
	logger   observability.Logger

	mu        sync.Mutex
	pubsub    *redis.PubSub
	stoppedCh chan struct{}
}

// RedisSourceOption is a functional option for the Redis source.
type RedisSourceOption func(*RedisSource)

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisSourceOption {
	return func(s *RedisSource) {
		s.logger = logger
	}
}

// NewRedisSource creates a Redis policy source.
func NewRedisSource(
	client redis.UniversalClient,
	key, channel string,
	reloader *Reloader,
	opts ...RedisSourceOption,
) *RedisSource {
	s := &RedisSource{
		client:   client,
		key:      key,
		channel:  channel,
		reloader: reloader,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the policy key and swaps the resulting oracle in.
func (s *RedisSource) Load(ctx context.Context) (*oracle.Handle, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.reloader.fail(s.label(), fmt.Errorf("%w: redis key %q", ErrPolicyNotFound, s.key))
	}
	if err != nil {
		return s.reloader.fail(s.label(), fmt.Errorf("failed to read redis key %q: %w", s.key, err))
	}
	return s.reloader.Apply(data, s.label())
}

// Start subscribes to the update channel. It returns once the subscription
// is confirmed; reloads run in the background until Stop or ctx is done.
func (s *RedisSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubsub != nil {
		return nil
	}
	if s.channel == "" {
		return errors.New("redis policy channel is required")
	}

	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %q: %w", s.channel, err)
	}

	s.pubsub = pubsub
	s.stoppedCh = make(chan struct{})
	go s.listen(ctx, pubsub.Channel(), s.stoppedCh)

	s.logger.Info("subscribed to policy updates",
		observability.String("channel", s.channel),
		observability.String("key", s.key),
	)
	return nil
}

// Stop closes the subscription and waits for the listener to exit.
func (s *RedisSource) Stop() error {
	s.mu.Lock()
	pubsub, stoppedCh := s.pubsub, s.stoppedCh
	s.pubsub = nil
	s.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-stoppedCh
	return err
}

func (s *RedisSource) listen(ctx context.Context, messages <-chan *redis.Message, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			s.logger.Debug("policy update notification",
				observability.String("channel", msg.Channel),
			)
			// Errors are logged and counted by the reloader.
			_, _ = s.Load(ctx)
		}
	}
}

func (s *RedisSource) label() string {
	return "redis:" + s.key
}
