package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Notifier wraps PostgreSQL NOTIFY.  It announces the patient uid whenever a
// new analysis snapshot is written so that dashboards can refresh.
type Notifier struct {
	DB      *sql.DB
	Channel string
}

// NewNotifier constructs a new Notifier.  The channel should match the
// NOTIFY_CHANNEL configuration value.
func NewNotifier(db *sql.DB, channel string) *Notifier {
	return &Notifier{DB: db, Channel: channel}
}

// Notify sends a notification to the configured channel with the patient uid.
func (n *Notifier) Notify(ctx context.Context, patientUID string) error {
	// NOTIFY does not accept bind parameters for the payload.
	_, err := n.DB.ExecContext(ctx,
		fmt.Sprintf("NOTIFY %s, %s", pq.QuoteIdentifier(n.Channel), pq.QuoteLiteral(patientUID)))
	return err
}
