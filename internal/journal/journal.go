// Package journal stores the bridge event history in the journal_events
// table: state transitions, sync failures, link errors and skipped
// protocol lines.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/cockpit-bridge/internal/bridge"
)

// timeLayout is fixed width so stored timestamps sort as text.
// time.RFC3339Nano trims trailing zeros and does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one journal row.
type Entry struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	BridgeID   string    `json:"bridge_id"`
	Session    string    `json:"session,omitempty"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
}

// Filter controls which entries List returns.
type Filter struct {
	Session string    // optional: one link session
	Kind    string    // optional: state, sync_failure, protocol_error, link_error
	Since   time.Time // optional: entries at or after this time
	Limit   int       // default 50, max 500
}

// SQLiteJournal appends entries for one bridge.
type SQLiteJournal struct {
	db       *sql.DB
	bridgeID string
	now      func() time.Time
}

// Compile-time check that SQLiteJournal satisfies bridge.Journal.
var _ bridge.Journal = (*SQLiteJournal)(nil)

// New creates a journal writing rows tagged with bridgeID.
// The journal_events table must already exist (see migrations).
func New(db *sql.DB, bridgeID string) *SQLiteJournal {
	return &SQLiteJournal{
		db:       db,
		bridgeID: bridgeID,
		now:      time.Now,
	}
}

// Record appends one entry.
func (j *SQLiteJournal) Record(ctx context.Context, session, kind, detail string) error {
	if kind == "" {
		return fmt.Errorf("journal: empty kind")
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO journal_events (occurred_at, bridge_id, session, kind, detail)
		 VALUES (?, ?, ?, ?, ?)`,
		j.now().UTC().Format(timeLayout), j.bridgeID, session, kind, detail,
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns matching entries, most recent first.
func (j *SQLiteJournal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	conditions := []string{"bridge_id = ?"}
	args := []any{j.bridgeID}

	if filter.Session != "" {
		conditions = append(conditions, "session = ?")
		args = append(args, filter.Session)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	args = append(args, filter.Limit)

	query := "SELECT id, occurred_at, bridge_id, session, kind, detail FROM journal_events WHERE " + //nolint:gosec // Conditions are fixed strings with ? placeholders
		strings.Join(conditions, " AND ") +
		" ORDER BY id DESC LIMIT ?"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var occurredAt string
		if err := rows.Scan(&e.ID, &occurredAt, &e.BridgeID, &e.Session, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.OccurredAt, err = time.Parse(timeLayout, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", occurredAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than cutoff and returns how many went.
func (j *SQLiteJournal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM journal_events WHERE bridge_id = ? AND occurred_at < ?",
		j.bridgeID, cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}
