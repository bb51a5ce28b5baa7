// Package storage keeps received packets and frame rejections in a local
// SQLite database so they survive restarts and can be served by the API.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/logging"
)

var (
	ErrClosed = errors.New("inbox closed")
)

// Defaults
const (
	DefaultTTL             = 7 * 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultListLimit       = 100
	MaxListLimit           = 1000
)

// Options configures an Inbox.
type Options struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	Logger          *zap.Logger
	Clock           func() time.Time
}

// Inbox is the on-disk record of traffic seen by the client.
type Inbox struct {
	db    *sql.DB
	ttl   time.Duration
	log   *zap.Logger
	clock func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// Open opens (or creates) the inbox database at path and starts the
// background expiry loop.
func Open(path string, opts Options) (*Inbox, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open inbox database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	inbox := &Inbox{
		db:    db,
		ttl:   opts.TTL,
		log:   logging.OrNop(opts.Logger).Named("inbox"),
		clock: opts.Clock,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	if err := inbox.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	go inbox.cleanupLoop(opts.CleanupInterval)

	return inbox, nil
}

func (i *Inbox) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS packets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		data BLOB NOT NULL,
		received_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rejections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer TEXT NOT NULL,
		reason TEXT NOT NULL,
		detail TEXT NOT NULL,
		rejected_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packets_expires ON packets(expires_at);
	CREATE INDEX IF NOT EXISTS idx_rejections_expires ON rejections(expires_at);
	CREATE INDEX IF NOT EXISTS idx_rejections_reason ON rejections(reason);
	`

	if _, err := i.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// TTL returns how long rows are kept.
func (i *Inbox) TTL() time.Duration {
	return i.ttl
}

// PurgeExpired deletes every row whose TTL has passed and returns how many
// were removed.
func (i *Inbox) PurgeExpired() (int64, error) {
	if err := i.checkOpen(); err != nil {
		return 0, err
	}

	now := i.clock().Unix()
	var total int64
	for _, table := range []string{"packets", "rejections"} {
		result, err := i.db.Exec(`DELETE FROM `+table+` WHERE expires_at <= ?`, now)
		if err != nil {
			return total, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		count, _ := result.RowsAffected()
		total += count
	}
	return total, nil
}

func (i *Inbox) cleanupLoop(interval time.Duration) {
	defer close(i.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ticker.C:
			count, err := i.PurgeExpired()
			if err != nil {
				i.log.Warn("Failed to purge expired rows", zap.Error(err))
				continue
			}
			if count > 0 {
				i.log.Info("Purged expired rows", zap.Int64("count", count))
			}
		}
	}
}

func (i *Inbox) checkOpen() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrClosed
	}
	return nil
}

func (i *Inbox) expiry(now time.Time) int64 {
	return now.Add(i.ttl).Unix()
}

// Close stops the expiry loop and closes the database.
func (i *Inbox) Close() error {
	err := ErrClosed
	i.closeOnce.Do(func() {
		close(i.stop)
		<-i.done

		i.mu.Lock()
		i.closed = true
		i.mu.Unlock()

		err = i.db.Close()
	})
	return err
}
