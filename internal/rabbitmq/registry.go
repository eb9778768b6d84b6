package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"devconnector-chat/internal/observability"
	"devconnector-chat/internal/ws"
)

const groupKeyPrefix = "user."

type channel interface {
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ErrRegistryUnavailable is returned once the broker channel is gone.
var ErrRegistryUnavailable = errors.New("amqp group registry unavailable")

// Registry is a ws.Registry shared by several processes through a topic
// exchange. Each process owns one exclusive queue and binds it to the groups
// that have local members; deliveries are handed to a local ws.Hub.
type Registry struct {
	local    *ws.Hub
	ch       channel
	exchange string
	queue    string

	// mu guards locks and bound. It is never held across a broker call.
	mu    sync.Mutex
	locks map[string]*groupLock
	bound map[string]bool

	failOnce sync.Once
	failErr  error
	done     chan struct{}
	stopping atomic.Bool
}

// groupLock orders bind/unbind with local membership changes of one group.
type groupLock struct {
	mu   sync.Mutex
	refs int
}

func newRegistry(local *ws.Hub, ch channel, exchange, queue string) *Registry {
	return &Registry{
		local:    local,
		ch:       ch,
		exchange: exchange,
		queue:    queue,
		locks:    make(map[string]*groupLock),
		bound:    make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// DialRegistry connects to the broker, declares the groups exchange and
// this process' queue, and starts consuming. The returned close func stops
// the registry without reporting it as failed.
func DialRegistry(amqpURL, exchange string) (*Registry, func() error, error) {
	ch, closeAll, err := dialExchange(amqpURL, exchange)
	if err != nil {
		return nil, nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = closeAll()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = closeAll()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}

	r := newRegistry(ws.NewHub(), ch, exchange, q.Name)
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			r.fail(amqpErr)
		}
	}()
	go r.consume(deliveries)
	observability.SetAMQPRegistryUp(true)
	slog.Info("amqp group registry ready", "exchange", exchange, "queue", q.Name)

	stop := func() error {
		r.stopping.Store(true)
		return closeAll()
	}
	return r, stop, nil
}

// Join registers member locally and subscribes this process to the group.
func (r *Registry) Join(ctx context.Context, userID string, member ws.Member) error {
	if err := r.Check(ctx); err != nil {
		return err
	}
	unlock := r.lockGroup(userID)
	defer unlock()

	if !r.isBound(userID) {
		if err := r.ch.QueueBind(r.queue, groupKeyPrefix+userID, r.exchange, false, nil); err != nil {
			return fmt.Errorf("bind group %s: %w", userID, err)
		}
		r.setBound(userID, true)
	}
	return r.local.Join(ctx, userID, member)
}

// Leave removes member and unsubscribes once the group has no local members.
func (r *Registry) Leave(ctx context.Context, userID string, member ws.Member) error {
	unlock := r.lockGroup(userID)
	defer unlock()

	if err := r.local.Leave(ctx, userID, member); err != nil {
		return err
	}
	if !r.isBound(userID) || r.local.Size(userID) > 0 {
		return nil
	}
	r.setBound(userID, false)
	if r.failed() {
		return nil
	}
	if err := r.ch.QueueUnbind(r.queue, groupKeyPrefix+userID, r.exchange, nil); err != nil {
		return fmt.Errorf("unbind group %s: %w", userID, err)
	}
	return nil
}

// Publish sends event to every process subscribed to userID's group.
func (r *Registry) Publish(ctx context.Context, userID string, event any) error {
	if err := r.Check(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = r.ch.PublishWithContext(ctx, r.exchange, groupKeyPrefix+userID, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		return fmt.Errorf("publish to group %s: %w", userID, err)
	}
	return nil
}

// Local exposes the process-local hub.
func (r *Registry) Local() *ws.Hub {
	return r.local
}

// Check reports ErrRegistryUnavailable, wrapping the cause, once deliveries
// can no longer reach this process.
func (r *Registry) Check(context.Context) error {
	select {
	case <-r.done:
		return r.failErr
	default:
		return nil
	}
}

// Done is closed when the registry stops consuming.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

func (r *Registry) failed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Registry) fail(cause error) {
	r.failOnce.Do(func() {
		r.failErr = fmt.Errorf("%w: %v", ErrRegistryUnavailable, cause)
		observability.SetAMQPRegistryUp(false)
		if r.stopping.Load() {
			slog.Info("amqp group registry stopped")
		} else {
			slog.Error("amqp group registry failed", "err", cause)
		}
		close(r.done)
	})
}

// lockGroup serializes membership changes of userID's group and returns
// the matching unlock.
func (r *Registry) lockGroup(userID string) func() {
	r.mu.Lock()
	l, ok := r.locks[userID]
	if !ok {
		l = &groupLock{}
		r.locks[userID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, userID)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) isBound(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bound[userID]
}

func (r *Registry) setBound(userID string, bound bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bound {
		r.bound[userID] = true
		return
	}
	delete(r.bound, userID)
}

func (r *Registry) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		userID, ok := strings.CutPrefix(d.RoutingKey, groupKeyPrefix)
		if !ok {
			continue
		}
		r.local.Deliver(userID, d.Body)
	}
	r.fail(errors.New("delivery stream closed"))
}
