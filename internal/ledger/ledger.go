package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nerrad567/fleetctl/internal/infrastructure/database"
	"github.com/nerrad567/fleetctl/migrations"
)

// FileName is the ledger database inside the config directory.
const FileName = "ledger.db"

// Entry is one registered node.
type Entry struct {
	NodeID       string    `json:"node_id" yaml:"node_id"`
	Broker       string    `json:"broker" yaml:"broker"`
	RegisteredAt time.Time `json:"registered_at" yaml:"registered_at"`
	PID          int       `json:"pid" yaml:"pid"`
}

// Ledger is the SQLite-backed shared ledger.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Cross-process writes are serialised by SQLite; last writer wins.
type Ledger struct {
	db  *database.DB
	pid int
	now func() time.Time
}

// Open opens (creating and migrating if needed) the ledger in dir.
func Open(ctx context.Context, dir string) (*Ledger, error) {
	db, err := database.Open(ctx, database.Config{
		Path:    filepath.Join(dir, FileName),
		WALMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &Ledger{
		db:  db,
		pid: os.Getpid(),
		now: time.Now,
	}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the ledger database file.
func (l *Ledger) Path() string {
	return l.db.Path()
}

// Register records nodeID as connected to broker by this process.
// An existing entry is replaced.
func (l *Ledger) Register(ctx context.Context, nodeID, broker string) error {
	if nodeID == "" {
		return ErrInvalidEntry
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger (node_id, broker, registered_at, pid)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			broker = excluded.broker,
			registered_at = excluded.registered_at,
			pid = excluded.pid
	`, nodeID, broker, l.now().UTC().Format(time.RFC3339Nano), l.pid)
	if err != nil {
		return fmt.Errorf("registering %s: %w", nodeID, err)
	}
	return nil
}

// Unregister removes nodeID. Removing an absent node is not an error.
func (l *Ledger) Unregister(ctx context.Context, nodeID string) error {
	if _, err := l.db.ExecContext(ctx, "DELETE FROM ledger WHERE node_id = ?", nodeID); err != nil {
		return fmt.Errorf("unregistering %s: %w", nodeID, err)
	}
	return nil
}

// IsRegistered reports whether nodeID has an entry.
func (l *Ledger) IsRegistered(ctx context.Context, nodeID string) (bool, error) {
	var count int
	if err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger WHERE node_id = ?", nodeID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("checking %s: %w", nodeID, err)
	}
	return count > 0, nil
}

// Entries returns every entry ordered by node id.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT node_id, broker, registered_at, pid FROM ledger ORDER BY node_id",
	)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var registeredAt string
		if err := rows.Scan(&e.NodeID, &e.Broker, &registeredAt, &e.PID); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		e.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredAt) //nolint:errcheck // Format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger: %w", err)
	}
	return entries, nil
}

// Reconcile makes the ledger match known (node id → broker): entries for
// unknown nodes are removed and known nodes without an entry are added.
// Existing entries for known nodes keep their timestamp and pid.
func (l *Ledger) Reconcile(ctx context.Context, known map[string]string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	rows, err := tx.QueryContext(ctx, "SELECT node_id FROM ledger")
	if err != nil {
		return fmt.Errorf("listing ledger: %w", err)
	}
	var stale []string
	for rows.Next() {
		var nodeID string
		if err := rows.Scan(&nodeID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning ledger row: %w", err)
		}
		if _, ok := known[nodeID]; !ok {
			stale = append(stale, nodeID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating ledger: %w", err)
	}

	for _, nodeID := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM ledger WHERE node_id = ?", nodeID); err != nil {
			return fmt.Errorf("removing stale %s: %w", nodeID, err)
		}
	}

	now := l.now().UTC().Format(time.RFC3339Nano)
	for nodeID, broker := range known {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO ledger (node_id, broker, registered_at, pid) VALUES (?, ?, ?, ?)",
			nodeID, broker, now, l.pid,
		); err != nil {
			return fmt.Errorf("adding %s: %w", nodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reconcile: %w", err)
	}
	return nil
}
