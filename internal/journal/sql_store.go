package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// SQLStore persists entries, seen signatures and sync cursors in SQLite or Postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens the database and creates the schema.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxIdleTime(30 * time.Second)
		db.SetMaxIdleConns(4)
		db.SetMaxOpenConns(8)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	return rebindPostgresPlaceholders(query)
}

// rebindPostgresPlaceholders rewrites ? placeholders to $n outside string literals.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote && i+1 < len(query) && query[i+1] == '\'' {
				out.WriteByte(query[i+1])
				i++
				continue
			}
			inSingleQuote = !inSingleQuote
			continue
		}
		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			wallet TEXT NOT NULL,
			token_mint TEXT NOT NULL,
			direction TEXT NOT NULL,
			first_tx_time BIGINT NOT NULL,
			last_tx_time BIGINT NOT NULL,
			expiry_time BIGINT NOT NULL,
			total_buy_amount DOUBLE PRECISION NOT NULL,
			total_sell_amount DOUBLE PRECISION NOT NULL,
			total_buy_usd DOUBLE PRECISION NOT NULL,
			total_sell_usd DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION,
			tx_signatures TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			archived_at BIGINT,
			archive_reason TEXT NOT NULL DEFAULT '',
			confirmed_at BIGINT,
			notes TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			emotion TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_active ON entries(wallet, token_mint) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS seen_signatures (
			signature TEXT PRIMARY KEY,
			seen_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			wallet TEXT PRIMARY KEY,
			next_cursor TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithTx runs fn in a database transaction.
func (s *SQLStore) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Update applies fn in one transaction.
func (s *SQLStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqlTx{ctx: ctx, tx: tx, store: s})
	})
}

type sqlTx struct {
	ctx   context.Context
	tx    *sql.Tx
	store *SQLStore
}

func (t *sqlTx) Seen(signature string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(t.ctx,
		t.store.rebind(`SELECT 1 FROM seen_signatures WHERE signature = ?`), signature).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen signature: %w", err)
	}
	return true, nil
}

func (t *sqlTx) MarkSeen(signature string, at time.Time) error {
	_, err := t.tx.ExecContext(t.ctx,
		t.store.rebind(`INSERT INTO seen_signatures (signature, seen_at) VALUES (?, ?) ON CONFLICT (signature) DO NOTHING`),
		signature, at.Unix())
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (t *sqlTx) ActiveEntries(wallet, tokenMint string) ([]Entry, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		t.store.rebind(selectEntrySQL+` WHERE status = ? AND wallet = ? AND token_mint = ? ORDER BY id`),
		string(StatusActive), wallet, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("query active entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (t *sqlTx) Get(id string) (Entry, error) {
	return getEntry(t.ctx, t.tx, t.store.rebind(selectEntrySQL+` WHERE id = ?`), id)
}

func (t *sqlTx) Put(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Status == StatusActive {
		active, err := t.ActiveEntries(e.Wallet, e.TokenMint)
		if err != nil {
			return err
		}
		for _, other := range active {
			if other.ID != e.ID {
				return fmt.Errorf("%w: entry %s already active for %s/%s",
					ErrInvariantViolation, other.ID, e.Wallet, e.TokenMint)
			}
		}
	}

	sigs, err := json.Marshal(e.TxSignatures)
	if err != nil {
		return fmt.Errorf("encode signatures: %w", err)
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = t.tx.ExecContext(t.ctx, t.store.rebind(`
		INSERT INTO entries (
			id, status, wallet, token_mint, direction,
			first_tx_time, last_tx_time, expiry_time,
			total_buy_amount, total_sell_amount, total_buy_usd, total_sell_usd, realized_pnl,
			tx_signatures, created_at, updated_at,
			archived_at, archive_reason, confirmed_at, notes, tags, emotion
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			direction = excluded.direction,
			last_tx_time = excluded.last_tx_time,
			expiry_time = excluded.expiry_time,
			total_buy_amount = excluded.total_buy_amount,
			total_sell_amount = excluded.total_sell_amount,
			total_buy_usd = excluded.total_buy_usd,
			total_sell_usd = excluded.total_sell_usd,
			realized_pnl = excluded.realized_pnl,
			tx_signatures = excluded.tx_signatures,
			updated_at = excluded.updated_at,
			archived_at = excluded.archived_at,
			archive_reason = excluded.archive_reason,
			confirmed_at = excluded.confirmed_at,
			notes = excluded.notes,
			tags = excluded.tags,
			emotion = excluded.emotion`),
		e.ID, string(e.Status), e.Wallet, e.TokenMint, string(e.Direction),
		e.FirstTxTime, e.LastTxTime, e.ExpiryTime,
		e.TotalBuyAmount, e.TotalSellAmount, e.TotalBuyUSD, e.TotalSellUSD, nullFloat(e.RealizedPnl),
		string(sigs), e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli(),
		nullMillis(e.ArchivedAt), string(e.ArchiveReason), nullMillis(e.ConfirmedAt),
		e.Notes, string(tagsJSON), e.Emotion,
	)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", e.ID, err)
	}
	return nil
}

func (t *sqlTx) Delete(id string) error {
	res, err := t.tx.ExecContext(t.ctx, t.store.rebind(`DELETE FROM entries WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get returns one entry.
func (s *SQLStore) Get(ctx context.Context, id string) (Entry, error) {
	return getEntry(ctx, s.db, s.rebind(selectEntrySQL+` WHERE id = ?`), id)
}

// List returns entries with the given status, oldest first.
func (s *SQLStore) List(ctx context.Context, status Status) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(selectEntrySQL+` WHERE status = ? ORDER BY first_tx_time, id`), string(status))
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// LoadCursor returns the stored cursor for wallet, or "".
func (s *SQLStore) LoadCursor(ctx context.Context, wallet string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT next_cursor FROM sync_cursors WHERE wallet = ?`), wallet).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load cursor: %w", err)
	}
	return cursor, nil
}

// SaveCursor upserts the cursor for wallet.
func (s *SQLStore) SaveCursor(ctx context.Context, wallet, cursor string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sync_cursors (wallet, next_cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (wallet) DO UPDATE SET next_cursor = excluded.next_cursor, updated_at = excluded.updated_at`),
		wallet, cursor, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const selectEntrySQL = `SELECT
	id, status, wallet, token_mint, direction,
	first_tx_time, last_tx_time, expiry_time,
	total_buy_amount, total_sell_amount, total_buy_usd, total_sell_usd, realized_pnl,
	tx_signatures, created_at, updated_at,
	archived_at, archive_reason, confirmed_at, notes, tags, emotion
FROM entries`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntry(ctx context.Context, q queryRower, query, id string) (Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                       Entry
		status, direction       string
		reason                  string
		pnl                     sql.NullFloat64
		sigs, tags              string
		createdAt, updatedAt    int64
		archivedAt, confirmedAt sql.NullInt64
	)
	err := row.Scan(
		&e.ID, &status, &e.Wallet, &e.TokenMint, &direction,
		&e.FirstTxTime, &e.LastTxTime, &e.ExpiryTime,
		&e.TotalBuyAmount, &e.TotalSellAmount, &e.TotalBuyUSD, &e.TotalSellUSD, &pnl,
		&sigs, &createdAt, &updatedAt,
		&archivedAt, &reason, &confirmedAt, &e.Notes, &tags, &e.Emotion,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.Direction = Direction(direction)
	e.ArchiveReason = ArchiveReason(reason)
	if pnl.Valid {
		v := pnl.Float64
		e.RealizedPnl = &v
	}
	if err := json.Unmarshal([]byte(sigs), &e.TxSignatures); err != nil {
		return Entry{}, fmt.Errorf("decode signatures of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return Entry{}, fmt.Errorf("decode tags of %s: %w", e.ID, err)
	}
	if len(e.Tags) == 0 {
		e.Tags = nil
	}
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if archivedAt.Valid {
		t := time.UnixMilli(archivedAt.Int64).UTC()
		e.ArchivedAt = &t
	}
	if confirmedAt.Valid {
		t := time.UnixMilli(confirmedAt.Int64).UTC()
		e.ConfirmedAt = &t
	}
	return e, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
