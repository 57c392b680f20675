// Package changebus implements the Change Bus (C9): a fan-out of
// persisted entity deltas to subscribed consumers, adapted from the
// teacher's pkg/events Broker (buffered channel, drop-if-full
// broadcast) and enriched with a Postgres LISTEN/NOTIFY bridge so the
// bus can run across manager processes, not just within one.
package changebus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/whamcloud/lustre-fleet/pkg/log"
)

// Op distinguishes an upsert delta from a deletion.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Delta is one persisted change, carrying the table it came from and
// the affected record, per §4.9.
type Delta struct {
	Table     string          `json:"table"`
	Op        Op              `json:"op"`
	Record    json.RawMessage `json:"record"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscriber is a channel that receives deltas in arrival order.
type Subscriber chan *Delta

// maxConsecutiveDrops is how many deltas in a row a subscriber may fail
// to keep up with before the bus disconnects it, per §4.9's "subscribers
// that fall behind are disconnected rather than buffered unboundedly".
const maxConsecutiveDrops = 8

const subscriberBuffer = 64

type subscriberState struct {
	consecutiveDrops int
}

// Broker distributes deltas to subscribers. The zero value is not
// usable; construct with NewBroker.
type Broker struct {
	mu          sync.Mutex
	subscribers map[Subscriber]*subscriberState
	deltaCh     chan *Delta
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a Broker with its internal distribution loop not
// yet started; call Start to begin processing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]*subscriberState),
		deltaCh:     make(chan *Delta, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop in its own goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution; already-delivered subscriptions remain open
// until Unsubscribe is called on them.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new consumer and returns its delta channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberBuffer)
	b.subscribers[sub] = &subscriberState{}
	return sub
}

// Unsubscribe removes and closes sub. Safe to call after the broker has
// already disconnected it.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues delta for distribution. Consumers maintain an
// in-memory cache coherent with the database by applying deltas in the
// order they're published here.
func (b *Broker) Publish(delta *Delta) {
	if delta.Timestamp.IsZero() {
		delta.Timestamp = time.Now()
	}

	select {
	case b.deltaCh <- delta:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case delta := <-b.deltaCh:
			b.broadcast(delta)
		case <-b.stopCh:
			return
		}
	}
}

// broadcast delivers delta to every subscriber, evicting any whose
// buffer has been full for maxConsecutiveDrops deliveries in a row.
func (b *Broker) broadcast(delta *Delta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub, state := range b.subscribers {
		select {
		case sub <- delta:
			state.consecutiveDrops = 0
		default:
			state.consecutiveDrops++
			if state.consecutiveDrops >= maxConsecutiveDrops {
				delete(b.subscribers, sub)
				close(sub)
			}
		}
	}
}

// SubscriberCount returns the number of currently-connected subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Listener bridges a Postgres LISTEN/NOTIFY channel into a Broker, so
// deltas published by any manager process (via the storage layer's
// notify-on-commit) reach every process's in-memory subscribers.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	broker  *Broker
}

// NewListener creates a Listener that relays NOTIFY payloads on channel
// into broker.
func NewListener(pool *pgxpool.Pool, channel string, broker *Broker) *Listener {
	return &Listener{pool: pool, channel: channel, broker: broker}
}

// Run holds a dedicated connection LISTENing on the configured channel
// until ctx is cancelled, decoding each notification payload as a Delta
// and publishing it. Reconnects are the caller's responsibility (run it
// under a restart loop); Run itself returns on the first connection
// error so the caller can decide whether to retry.
func (l *Listener) Run(ctx context.Context) error {
	logger := log.WithComponent("changebus")

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(l.channel)); err != nil {
		return err
	}

	logger.Info().Str("channel", l.channel).Msg("listening for change-bus notifications")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var delta Delta
		if err := json.Unmarshal([]byte(notification.Payload), &delta); err != nil {
			logger.Error().Err(err).Msg("discarding malformed change-bus notification")
			continue
		}
		l.broker.Publish(&delta)
	}
}

// quoteIdent double-quotes an identifier for use in LISTEN/NOTIFY,
// which don't accept bind parameters for the channel name.
func quoteIdent(name string) string {
	return `"` + name + `"`
}
