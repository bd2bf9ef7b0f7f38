package replication

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AlexKenbo/book-club/pkg/kafka"

	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/remote"
	"github.com/AlexKenbo/book-club/internal/store"
)

// Config tunes the replication engines.
type Config struct {
	PullBatchSize uint64        `envconfig:"REPL_PULL_BATCH" default:"100"`
	PushBatchSize int           `envconfig:"REPL_PUSH_BATCH" default:"5"`
	RetryDelay    time.Duration `envconfig:"REPL_RETRY_DELAY" default:"5s"`
	PollInterval  time.Duration `envconfig:"REPL_POLL_INTERVAL" default:"30s"`
}

// CollectionSpec binds one local collection to its remote table and
// change-feed topic.
type CollectionSpec struct {
	Collection *store.Collection
	Table      string
	Topic      string
}

// Coordinator owns one pull+push+listener triple per collection and is
// the only replication component with process lifecycle. Engine
// failures are retried forever after a jittered delay; they degrade
// freshness, never local availability. Without a remote client the
// coordinator runs in local-only mode and does nothing.
type Coordinator struct {
	store    *store.Store
	client   remote.Client        // nil: local-only mode
	consumer sarama.ConsumerGroup // nil: no live feed, polling only
	cfg      Config
	specs    []CollectionSpec
	log      *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func NewCoordinator(s *store.Store, client remote.Client, consumer sarama.ConsumerGroup,
	cfg Config, specs []CollectionSpec, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		client:   client,
		consumer: consumer,
		cfg:      cfg,
		specs:    specs,
		log:      log.Named("replication"),
	}
}

// Start launches replication for every collection. It may be called
// once per process; the store stays usable for local reads and writes
// whether or not replication is running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("replication already started")
	}
	c.started = true

	if c.client == nil {
		c.log.Info("remote store not configured, running in local-only mode")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	c.group = g

	routes := make(map[string]chan<- Event, len(c.specs))
	topics := make([]string, 0, len(c.specs))

	for _, spec := range c.specs {
		spec := spec
		events := make(chan Event, 64)
		routes[spec.Topic] = events
		topics = append(topics, spec.Topic)

		cp, err := c.store.LoadCheckpoint(spec.Collection.Name())
		if err != nil {
			c.log.Warn("load checkpoint, starting from full sync",
				zap.String("collection", spec.Collection.Name()), zap.Error(err))
			cp = model.Checkpoint{}
		}
		name := spec.Collection.Name()
		puller := NewPuller(spec.Collection, c.client, spec.Table, c.cfg.PullBatchSize, cp,
			func(cp model.Checkpoint) { c.store.SaveCheckpoint(name, cp) }, c.log)
		pusher := NewPusher(spec.Collection, c.client, spec.Table, c.cfg.PushBatchSize, c.log)

		g.Go(func() error {
			c.run(ctx, name, puller, pusher, events)
			return nil
		})
	}

	if c.consumer != nil {
		listener := NewListener(routes, c.log)
		g.Go(func() error {
			kafka.Consume(ctx, c.consumer, listener, topics...)
			return nil
		})
	}

	c.log.Info("replication started", zap.Int("collections", len(c.specs)))
	return nil
}

// run supervises one collection: catch up, go live, and on any engine
// error back off and start over. Retries are unbounded; replication
// faults are infrastructure faults, not business errors.
func (c *Coordinator) run(ctx context.Context, name string, puller *Puller, pusher *Pusher, events <-chan Event) {
	log := c.log.Named(name)
	for ctx.Err() == nil {
		if err := c.live(ctx, puller, pusher, events); err != nil {
			log.Warn("replication cycle failed, retrying", zap.Error(err))
			c.sleep(ctx)
		}
	}
}

func (c *Coordinator) live(ctx context.Context, puller *Puller, pusher *Pusher, events <-chan Event) error {
	if err := puller.CatchUp(ctx); err != nil {
		return err
	}
	if err := c.pushAll(ctx, puller, pusher); err != nil {
		return err
	}

	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-events:
			if ev.Resync {
				if err := puller.CatchUp(ctx); err != nil {
					return err
				}
				continue
			}
			puller.Inject(ev.Rows, ev.Checkpoint)

		case <-pusher.Collection().DirtySignal():
			if err := c.pushAll(ctx, puller, pusher); err != nil {
				return err
			}

		case <-poll.C:
			if err := puller.CatchUp(ctx); err != nil {
				return err
			}
			if pusher.Collection().HasDirty() {
				if err := c.pushAll(ctx, puller, pusher); err != nil {
					return err
				}
			}
		}
	}
}

// pushAll drains the write log, feeding every reported conflict back
// through the pull engine's remote-wins path.
func (c *Coordinator) pushAll(ctx context.Context, puller *Puller, pusher *Pusher) error {
	for {
		conflicts, done, err := pusher.RunCycle(ctx)
		for _, row := range conflicts {
			puller.ApplyConflict(row)
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// sleep waits out the retry delay with full jitter.
func (c *Coordinator) sleep(ctx context.Context) {
	base := c.cfg.RetryDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	d := base/2 + time.Duration(rand.Int63n(int64(base)))
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Close stops replication for process shutdown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	cancel, g := c.cancel, c.group
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if g != nil {
		_ = g.Wait()
	}
}

// Reset tears replication down and destroys all local state, including
// checkpoints. The next Start runs cold, as on first launch.
func (c *Coordinator) Reset() error {
	c.Close()
	c.mu.Lock()
	c.started = false
	c.cancel = nil
	c.group = nil
	c.mu.Unlock()
	return c.store.Reset()
}
