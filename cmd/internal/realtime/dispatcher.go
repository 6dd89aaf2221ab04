package realtime

import (
	"log/slog"
	"sync"
)

// Dispatcher is the live-subscription registry, keyed by user identity.
//
// A user holds at most one live subscription: registering a new session
// tears down the prior one (last-connection-wins). Publish never blocks;
// events for absent, slow, or closing subscribers are dropped, and the
// client recovers by re-fetching over REST.
type Dispatcher struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]*Client // user id -> live client
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:  log,
		subs: make(map[string]*Client),
	}
}

// Subscribe registers client as the live subscription for its user,
// replacing and closing any prior session for that identity.
func (d *Dispatcher) Subscribe(client *Client) {
	if d == nil || client == nil || client.UserID == "" {
		return
	}

	var old *Client

	d.mu.Lock()
	old = d.subs[client.UserID]
	d.subs[client.UserID] = client
	d.mu.Unlock()

	// Close the evicted session after it is out of the registry so no
	// publisher can race a send into a closing client's slot.
	if old != nil && old != client {
		old.Close()
		metricSubscriptionsEvicted.Inc()
		metricConnections.Dec()
	}

	metricConnections.Inc()
	d.log.Info("realtime.subscribe", "user_id", client.UserID, "session_id", client.SessionID)
}

// Unsubscribe removes the subscription for userID, but only if sessionID is
// still the live one; a stale session cannot evict its replacement.
func (d *Dispatcher) Unsubscribe(userID, sessionID string) {
	if d == nil || userID == "" {
		return
	}

	var removed *Client

	d.mu.Lock()
	if cur := d.subs[userID]; cur != nil && cur.SessionID == sessionID {
		delete(d.subs, userID)
		removed = cur
	}
	d.mu.Unlock()

	if removed != nil {
		removed.Close()
		metricConnections.Dec()
		d.log.Info("realtime.unsubscribe", "user_id", userID, "session_id", sessionID)
	}
}

// Publish delivers env to userID's live subscription, if any. At-most-once:
// no subscriber, a full queue, or a closing client all drop the event.
func (d *Dispatcher) Publish(userID string, env Envelope) {
	if d == nil || userID == "" {
		return
	}

	d.mu.RLock()
	client := d.subs[userID]
	d.mu.RUnlock()

	if client == nil {
		metricPushesDropped.WithLabelValues("offline").Inc()
		return
	}

	select {
	case <-client.Done():
		metricPushesDropped.WithLabelValues("closing").Inc()
		return
	default:
	}

	select {
	case client.Send <- env:
		metricPushesDelivered.Inc()
	default:
		// Drop rather than block the publishing request.
		metricPushesDropped.WithLabelValues("backpressure").Inc()
		d.log.Info("realtime.push.drop", "user_id", userID, "type", env.Type)
	}
}

// Subscribed reports whether userID currently holds a live subscription.
func (d *Dispatcher) Subscribed(userID string) bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.subs[userID] != nil
}
