package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" driver

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const (
	ledgerDBName = "ledger.db"

	// Ledger keys. Shared by every LedgerStore implementation.
	KeyUsedMillis          = "used_millis"
	KeySeenIntro           = "seen_intro"
	KeyOverrideUntilMillis = "override_until_millis"
)

// EncryptedLedgerStore implements domain.LedgerStore using a SQLCipher
// encrypted SQLite database with one row per ledger key.
type EncryptedLedgerStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedLedgerStore opens (or creates) the encrypted ledger database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedLedgerStore(dataDir string, key []byte) (*EncryptedLedgerStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, ledgerDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// One writer; the monitor and the control API share this handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedLedgerStore{db: db, dbPath: dbPath}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ledger (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Load reads all three keys. Missing keys read as zero values.
func (s *EncryptedLedgerStore) Load(ctx context.Context) (domain.UsageLedger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM ledger`)
	if err != nil {
		return domain.UsageLedger{}, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 3)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return domain.UsageLedger{}, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return domain.UsageLedger{}, fmt.Errorf("failed to read ledger: %w", err)
	}
	return decodeLedger(values)
}

// SaveUsed overwrites used_millis.
func (s *EncryptedLedgerStore) SaveUsed(ctx context.Context, used time.Duration) error {
	return s.put(ctx, KeyUsedMillis, formatMillis(used.Milliseconds()))
}

// MarkIntroSeen sets seen_intro.
func (s *EncryptedLedgerStore) MarkIntroSeen(ctx context.Context) error {
	return s.put(ctx, KeySeenIntro, "true")
}

// SetOverrideUntil overwrites override_until_millis. Zero clears it.
func (s *EncryptedLedgerStore) SetOverrideUntil(ctx context.Context, until time.Time) error {
	if until.IsZero() {
		_, err := s.db.ExecContext(ctx, `DELETE FROM ledger WHERE key = ?`, KeyOverrideUntilMillis)
		return err
	}
	return s.put(ctx, KeyOverrideUntilMillis, formatMillis(until.UnixMilli()))
}

func (s *EncryptedLedgerStore) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO ledger (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Path returns the database file path.
func (s *EncryptedLedgerStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedLedgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// decodeLedger maps raw key/value pairs onto a ledger.
func decodeLedger(values map[string]string) (domain.UsageLedger, error) {
	var ledger domain.UsageLedger

	if v, ok := values[KeyUsedMillis]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.UsageLedger{}, fmt.Errorf("corrupt %s %q: %w", KeyUsedMillis, v, err)
		}
		ledger.Used = time.Duration(ms) * time.Millisecond
	}

	if v, ok := values[KeySeenIntro]; ok && v != "" {
		seen, err := strconv.ParseBool(v)
		if err != nil {
			return domain.UsageLedger{}, fmt.Errorf("corrupt %s %q: %w", KeySeenIntro, v, err)
		}
		ledger.SeenIntro = seen
	}

	if v, ok := values[KeyOverrideUntilMillis]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.UsageLedger{}, fmt.Errorf("corrupt %s %q: %w", KeyOverrideUntilMillis, v, err)
		}
		if ms > 0 {
			ledger.OverrideUntil = time.UnixMilli(ms)
		}
	}

	return ledger, nil
}

func formatMillis(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

// errClosed is returned by stores used after Close.
var errClosed = errors.New("ledger store closed")

// Ensure EncryptedLedgerStore implements domain.LedgerStore.
var _ domain.LedgerStore = (*EncryptedLedgerStore)(nil)
