package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// PGChannel is the LISTEN channel fed by the tandas table trigger
const PGChannel = "tanda_changes"

// PGNotifier receives tanda changes from Postgres LISTEN/NOTIFY. Writes are
// announced by the database trigger, so Publish does nothing.
type PGNotifier struct {
	listener *pq.Listener
	hub      *Hub
	logger   *slog.Logger
	done     chan struct{}
}

type pgPayload struct {
	EventID           string `json:"event_id"`
	LiveCompetitionID string `json:"live_competition_id"`
	TandaID           string `json:"tanda_id"`
}

// NewPGNotifier starts listening on PGChannel
func NewPGNotifier(dsn string, logger *slog.Logger) (*PGNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			logger.Warn("postgres listener disconnected", "error", err)
		case pq.ListenerEventReconnected:
			logger.Info("postgres listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("postgres listener connection attempt failed", "error", err)
		}
	})
	if err := listener.Listen(PGChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", PGChannel, err)
	}

	n := &PGNotifier{
		listener: listener,
		hub:      NewHub(),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go n.run()
	return n, nil
}

func (n *PGNotifier) run() {
	for {
		select {
		case <-n.done:
			return
		case msg, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect: notifications may have been missed
			if msg == nil {
				n.hub.PublishAll()
				continue
			}

			var p pgPayload
			if err := json.Unmarshal([]byte(msg.Extra), &p); err != nil {
				n.logger.Warn("invalid tanda notification", "payload", msg.Extra, "error", err)
				continue
			}
			_ = n.hub.Publish(context.Background(), models.TandaKey{
				EventID:           p.EventID,
				LiveCompetitionID: p.LiveCompetitionID,
				TandaID:           p.TandaID,
			})
		}
	}
}

func (n *PGNotifier) Publish(ctx context.Context, key models.TandaKey) error {
	return nil
}

func (n *PGNotifier) Subscribe(ctx context.Context, key models.TandaKey, onChange func()) (func(), error) {
	return n.hub.Subscribe(ctx, key, onChange)
}

func (n *PGNotifier) HealthCheck(ctx context.Context) error {
	return n.listener.Ping()
}

func (n *PGNotifier) Close() error {
	close(n.done)
	_ = n.hub.Close()
	return n.listener.Close()
}
