package db

import (
	"context"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Hub fans snapshot notifications out to in-process subscribers keyed by
// patient uid.  A subscriber that has not consumed the previous signal
// gets them coalesced into one.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Notify wakes every subscriber of patientUID.  It never blocks.
func (h *Hub) Notify(_ context.Context, patientUID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[patientUID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// NotifyAll wakes every subscriber regardless of patient.  It never blocks.
func (h *Hub) NotifyAll(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, chans := range h.subs {
		for ch := range chans {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribe registers interest in patientUID.  The returned func must be
// called to unsubscribe.
func (h *Hub) Subscribe(patientUID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.subs[patientUID] == nil {
		h.subs[patientUID] = make(map[chan struct{}]struct{})
	}
	h.subs[patientUID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[patientUID], ch)
			if len(h.subs[patientUID]) == 0 {
				delete(h.subs, patientUID)
			}
		})
	}
}

// Listener relays NOTIFY payloads from Postgres into a Hub, so every
// replica sees snapshots written by any other.
type Listener struct {
	listener *pq.Listener
	hub      *Hub
	log      zerolog.Logger
}

// NewListener opens a dedicated LISTEN connection on channel.
func NewListener(dsn, channel string, hub *Hub, logger zerolog.Logger) (*Listener, error) {
	log := logger.With().Str("component", "listener").Str("channel", channel).Logger()
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("listener connection event")
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, err
	}
	return &Listener{listener: l, hub: hub, log: log}, nil
}

// Run forwards notifications until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.listener.Notify:
			l.dispatch(ctx, n)
		case <-ping.C:
			if err := l.listener.Ping(); err != nil {
				l.log.Warn().Err(err).Msg("listener ping failed")
			}
		}
	}
}

// dispatch relays one notification.  A nil notification follows a reconnect;
// anything sent during the outage is lost, so every subscriber re-reads.
func (l *Listener) dispatch(ctx context.Context, n *pq.Notification) {
	if n == nil {
		l.log.Info().Msg("listener reconnected, waking all subscribers")
		l.hub.NotifyAll(ctx)
		return
	}
	_ = l.hub.Notify(ctx, n.Extra)
}

func (l *Listener) Close() error {
	return l.listener.Close()
}
