package replication

import (
	"encoding/json"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/remote"
)

// ChangeEvent is one change-feed message: the event type and the full
// remote row in snake_case form.
type ChangeEvent struct {
	EventType string     `json:"eventType"`
	Row       remote.Row `json:"row"`
}

const eventDelete = "DELETE"

// Listener consumes the per-collection change feeds and injects
// incoming rows into the matching pull stream as batches of one,
// bypassing the network fetch. On every (re)established subscription it
// emits a resync signal so the pullers cover anything missed while
// disconnected. Delete events are ignored: deletions propagate through
// the deleted flag during an ordinary pull, which preserves checkpoint
// ordering.
type Listener struct {
	routes map[string]chan<- Event // topic -> pull stream
	log    *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewListener(routes map[string]chan<- Event, log *zap.Logger) *Listener {
	return &Listener{
		routes: routes,
		log:    log.Named("listener"),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the first consumer session is established.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Setup runs at the start of every consumer session, including
// rebalances after a disconnect. Each pull stream gets a resync signal.
func (l *Listener) Setup(sarama.ConsumerGroupSession) error {
	for topic, events := range l.routes {
		select {
		case events <- Event{Resync: true}:
		default:
			l.log.Warn("pull stream full, resync dropped", zap.String("topic", topic))
		}
	}
	l.readyOnce.Do(func() { close(l.ready) })
	return nil
}

func (l *Listener) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (l *Listener) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	events, ok := l.routes[claim.Topic()]
	if !ok {
		l.log.Warn("no route for topic", zap.String("topic", claim.Topic()))
		return nil
	}
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				l.log.Warn("message channel was closed")
				return nil
			}
			var ev ChangeEvent
			if err := json.Unmarshal(message.Value, &ev); err != nil {
				l.log.Error("unmarshal change event", zap.Error(err))
				session.MarkMessage(message, "")
				continue
			}
			if ev.EventType == eventDelete || ev.Row.ID() == "" {
				session.MarkMessage(message, "")
				continue
			}

			injected := Event{
				Rows: []remote.Row{ev.Row},
				Checkpoint: model.Checkpoint{
					LastID:         ev.Row.ID(),
					LastModifiedAt: ev.Row.UpdatedAt(),
				},
			}
			select {
			case events <- injected:
			case <-session.Context().Done():
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
