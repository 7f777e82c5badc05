// Package hub fans pipeline messages out to connected observers and
// replays the full current state to late joiners.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aiweather/internal/state"
)

const (
	// observerBuffer is the per-observer outbound queue depth.
	observerBuffer = 64
	// sendTimeout bounds how long a broadcast waits on a full observer
	// queue before treating the observer as dead. A blocked observer
	// must never stall the pipeline.
	sendTimeout = time.Second
)

// Observer is one open broadcast channel with a unique id. Messages are
// pre-marshaled JSON objects.
type Observer struct {
	ID string

	ch       chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

// Messages returns the observer's outbound stream.
func (o *Observer) Messages() <-chan []byte {
	return o.ch
}

// Done is closed when the observer has been dropped from the hub.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

func (o *Observer) stop() {
	o.stopOnce.Do(func() { close(o.done) })
}

// Hub manages the observer registry and fan-out.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Observer
	store     *state.Store
	logger    *zap.Logger
	closed    bool
}

// New creates a hub reading replay state from the store.
func New(store *state.Store, logger *zap.Logger) *Hub {
	return &Hub{
		observers: make(map[string]*Observer),
		store:     store,
		logger:    logger.Named("hub"),
	}
}

// Register adds a new observer and immediately queues the full current
// state on its channel: status, config info, the last snapshot if any,
// and one visualization update per model. A late joiner reconstructs the
// current picture without waiting for the next round.
func (h *Hub) Register() *Observer {
	obs := &Observer{
		ID:   uuid.NewString(),
		ch:   make(chan []byte, observerBuffer),
		done: make(chan struct{}),
	}

	full := h.store.FullState()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		obs.stop()
		return obs
	}
	h.observers[obs.ID] = obs
	total := len(h.observers)
	h.mu.Unlock()

	// Replay straight into the fresh buffer; it is sized to hold the
	// full replay, so these sends cannot block.
	h.queue(obs, NewStatusMessage("connected"))
	h.queue(obs, NewConfigInfoMessage(full.ModelNames, full.PromptTemplate))
	if full.Snapshot != nil {
		h.queue(obs, NewWeatherMessage(full.Snapshot))
	}
	for _, name := range full.ModelNames {
		h.queue(obs, NewVisualizationMessage(full.Visualizations[name]))
	}

	h.logger.Info("observer connected", zap.String("id", obs.ID), zap.Int("total", total))
	return obs
}

// Unregister removes an observer. Idempotent; safe to call while a
// broadcast is in flight.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	obs, ok := h.observers[id]
	if ok {
		delete(h.observers, id)
	}
	total := len(h.observers)
	h.mu.Unlock()

	if ok {
		obs.stop()
		h.logger.Info("observer disconnected", zap.String("id", id), zap.Int("total", total))
	}
}

// Broadcast marshals the message once and sends it to every observer
// registered at call time. Observers that cannot accept the message
// within the bounded wait are dropped; failures never propagate.
func (h *Hub) Broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.Error(err))
		return
	}

	// Iterate a stable snapshot of the registry so connects and
	// disconnects during the broadcast are safe.
	h.mu.RLock()
	targets := make([]*Observer, 0, len(h.observers))
	for _, obs := range h.observers {
		targets = append(targets, obs)
	}
	h.mu.RUnlock()

	var dropped []string
	for _, obs := range targets {
		select {
		case obs.ch <- data:
		case <-obs.done:
		default:
			// Queue full; give the observer a bounded grace period.
			timer := time.NewTimer(sendTimeout)
			select {
			case obs.ch <- data:
				timer.Stop()
			case <-obs.done:
				timer.Stop()
			case <-timer.C:
				dropped = append(dropped, obs.ID)
			}
		}
	}

	for _, id := range dropped {
		h.logger.Warn("observer too slow, dropping", zap.String("id", id))
		h.Unregister(id)
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Close drops every observer and rejects future registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	observers := h.observers
	h.observers = make(map[string]*Observer)
	h.mu.Unlock()

	for _, obs := range observers {
		obs.stop()
	}
}

// queue enqueues a replay message without blocking; the fresh buffer is
// sized for the replay, so a full buffer means a broken observer and the
// message is dropped.
func (h *Hub) queue(obs *Observer, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal replay message", zap.Error(err))
		return
	}
	select {
	case obs.ch <- data:
	default:
	}
}
