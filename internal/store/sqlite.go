package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"github.com/enzopsm/papertrade/internal/domain"
)

// Store persists the durable slice of terminal state (portfolio, order
// history, watchlist, selection) in SQLite. Prices are never stored.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL mode enabled and
// the schema in place.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id   TEXT PRIMARY KEY,
			seq        INTEGER NOT NULL,
			instrument TEXT NOT NULL,
			side       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL,
			quantity   TEXT NOT NULL,
			price      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS terminal_state (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal_state table: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveState replaces the persisted state with st in one transaction. The
// order set is small (single user, append-only history), so a full rewrite
// is simpler and still atomic.
func (s *Store) SaveState(ctx context.Context, st domain.PersistedState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM orders"); err != nil {
		return fmt.Errorf("failed to clear orders: %w", err)
	}
	for _, o := range st.Orders {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO orders (order_id, seq, instrument, side, kind, status, quantity, price, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			o.OrderID, o.Seq, o.Instrument, string(o.Side), string(o.Kind), string(o.Status),
			o.Quantity.String(), o.Price.String(), o.UpdatedAt.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order %s: %w", o.OrderID, err)
		}
	}

	portfolio, err := json.Marshal(st.Portfolio)
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio: %w", err)
	}
	watchlist, err := json.Marshal(st.Watchlist)
	if err != nil {
		return fmt.Errorf("failed to marshal watchlist: %w", err)
	}

	now := time.Now().UnixMicro()
	kv := map[string]string{
		"portfolio": string(portfolio),
		"watchlist": string(watchlist),
		"selected":  st.Selected,
		"next_seq":  fmt.Sprintf("%d", st.NextSeq),
	}
	for key, value := range kv {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO terminal_state (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
			key, value, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// LoadState reads the persisted state. The second return value is false
// when no state has ever been saved (fresh database).
func (s *Store) LoadState(ctx context.Context) (*domain.PersistedState, bool, error) {
	portfolioJSON, ok, err := s.getState(ctx, "portfolio")
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var st domain.PersistedState
	if err := json.Unmarshal([]byte(portfolioJSON), &st.Portfolio); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal portfolio: %w", err)
	}

	if watchlistJSON, ok, err := s.getState(ctx, "watchlist"); err != nil {
		return nil, false, err
	} else if ok {
		if err := json.Unmarshal([]byte(watchlistJSON), &st.Watchlist); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal watchlist: %w", err)
		}
	}

	if selected, ok, err := s.getState(ctx, "selected"); err != nil {
		return nil, false, err
	} else if ok {
		st.Selected = selected
	}

	if nextSeq, ok, err := s.getState(ctx, "next_seq"); err != nil {
		return nil, false, err
	} else if ok {
		if _, err := fmt.Sscanf(nextSeq, "%d", &st.NextSeq); err != nil {
			return nil, false, fmt.Errorf("failed to parse next_seq: %w", err)
		}
	}
	if st.NextSeq == 0 {
		st.NextSeq = 1
	}

	orders, err := s.loadOrders(ctx)
	if err != nil {
		return nil, false, err
	}
	st.Orders = orders

	return &st, true, nil
}

func (s *Store) getState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM terminal_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) loadOrders(ctx context.Context) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT order_id, seq, instrument, side, kind, status, quantity, price, updated_at FROM orders ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		var side, kind, status, quantity, price string
		var updatedAt int64

		if err := rows.Scan(&o.OrderID, &o.Seq, &o.Instrument, &side, &kind, &status, &quantity, &price, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Kind = domain.OrderKind(kind)
		o.Status = domain.OrderStatus(status)
		o.UpdatedAt = time.UnixMicro(updatedAt)
		if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("failed to parse quantity of %s: %w", o.OrderID, err)
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse price of %s: %w", o.OrderID, err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return orders, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
