// Package sqlite stores the last known close per instrument so snapshots
// outside market hours have something better than a static default.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// ReferenceStore is a single-writer SQLite store of reference closes.
type ReferenceStore struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *ReferenceStore) DB() *sql.DB { return s.db }

// Open opens (or creates) the database with WAL mode and schema.
func Open(path string) (*ReferenceStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened reference store at %s", path)
	return &ReferenceStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reference_closes (
			segment     TEXT    NOT NULL,
			security_id TEXT    NOT NULL,
			symbol      TEXT,
			name        TEXT,
			close       REAL    NOT NULL,
			open        REAL,
			high        REAL,
			low         REAL,
			prev_close  REAL,
			volume      INTEGER,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (segment, security_id)
		);
	`)
	return err
}

// SaveCloses records each quote's price as the instrument's reference close,
// replacing older rows, in one transaction.
func (s *ReferenceStore) SaveCloses(ctx context.Context, quotes []model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO reference_closes
			(segment, security_id, symbol, name, close, open, high, low, prev_close, volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, q := range quotes {
		_, err := stmt.ExecContext(ctx, string(q.Segment), q.SecurityID, q.Symbol, q.Name,
			q.Price, q.Open, q.High, q.Low, q.Close, q.Volume, q.UpdatedAt.Unix())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite save close %s: %w", q.Key(), err)
		}
	}
	return tx.Commit()
}

// LastClose returns the stored reference close for inst.
func (s *ReferenceStore) LastClose(ctx context.Context, inst model.Instrument) (model.Quote, bool, error) {
	var (
		symbol, name               sql.NullString
		closePx                    float64
		open, high, low, prevClose sql.NullFloat64
		volume                     sql.NullInt64
		updated                    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, name, close, open, high, low, prev_close, volume, updated_at
		FROM reference_closes WHERE segment = ? AND security_id = ?`,
		string(inst.Segment), inst.SecurityID,
	).Scan(&symbol, &name, &closePx, &open, &high, &low, &prevClose, &volume, &updated)
	if err == sql.ErrNoRows {
		return model.Quote{}, false, nil
	}
	if err != nil {
		return model.Quote{}, false, err
	}

	q := model.Quote{
		SecurityID: inst.SecurityID,
		Segment:    inst.Segment,
		Symbol:     firstNonEmpty(inst.Symbol, symbol.String),
		Name:       firstNonEmpty(inst.Name, name.String),
		Price:      closePx,
		Open:       open.Float64,
		High:       high.Float64,
		Low:        low.Float64,
		Close:      prevClose.Float64,
		Volume:     volume.Int64,
		Provenance: model.ProvenanceFallback,
		Source:     model.SourceReference,
		UpdatedAt:  time.Unix(updated, 0).UTC(),
	}
	q.Change, q.ChangePercent = model.PriceChange(q.Price, q.Close)
	return q, true, nil
}

// Fallback returns stored closes for the instruments that have one, keyed by
// Instrument.Key(). Lookup errors are logged and treated as misses.
func (s *ReferenceStore) Fallback(ctx context.Context, instruments []model.Instrument) map[string]model.Quote {
	out := make(map[string]model.Quote, len(instruments))
	for _, inst := range instruments {
		q, ok, err := s.LastClose(ctx, inst)
		if err != nil {
			log.Printf("[sqlite] reference close %s: %v", inst.Key(), err)
			continue
		}
		if ok {
			out[inst.Key()] = q
		}
	}
	return out
}

// Ping checks the database for health reporting.
func (s *ReferenceStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *ReferenceStore) Close() error {
	return s.db.Close()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
