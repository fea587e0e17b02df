package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/drluca/shopstream/ordercore/config"
	"github.com/drluca/shopstream/ordercore/internal/models"
)

// PostgresStore backs the ledger with Postgres. Stock CAS is a conditional
// UPDATE guarded by the version column; commit idempotence is an insert into
// applied_commits keyed by reservation ID.
//
// Expected schema:
//
//	CREATE TABLE stock (
//	    product_id    TEXT PRIMARY KEY,
//	    available_qty BIGINT NOT NULL CHECK (available_qty >= 0),
//	    reserved_qty  BIGINT NOT NULL DEFAULT 0 CHECK (reserved_qty >= 0),
//	    version       BIGINT NOT NULL DEFAULT 1
//	);
//	CREATE TABLE orders (
//	    order_id TEXT PRIMARY KEY,
//	    status   TEXT NOT NULL,
//	    payload  JSONB NOT NULL
//	);
//	CREATE TABLE applied_commits (
//	    reservation_id TEXT PRIMARY KEY
//	);
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(cfg config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ReadStock(ctx context.Context, productID string) (models.StockRecord, error) {
	var rec models.StockRecord
	query := `SELECT product_id, available_qty, reserved_qty, version FROM stock WHERE product_id = $1`
	err := s.db.GetContext(ctx, &rec, query, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StockRecord{}, models.ErrProductNotFound
	}
	if err != nil {
		return models.StockRecord{}, fmt.Errorf("%w: reading stock for %s: %v", models.ErrLedgerUnavailable, productID, err)
	}
	return rec, nil
}

func (s *PostgresStore) CompareAndSwapStock(ctx context.Context, productID string, expectedVersion, availDelta, reservedDelta int64) error {
	query := `UPDATE stock
	          SET available_qty = available_qty + $1,
	              reserved_qty  = reserved_qty + $2,
	              version       = version + 1
	          WHERE product_id = $3
	            AND version = $4
	            AND available_qty + $1 >= 0
	            AND reserved_qty + $2 >= 0`
	result, err := s.db.ExecContext(ctx, query, availDelta, reservedDelta, productID, expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: stock CAS for %s: %v", models.ErrLedgerUnavailable, productID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for %s: %v", models.ErrLedgerUnavailable, productID, err)
	}
	if rows == 0 {
		// Either the version moved or a counter would have gone negative;
		// re-read to tell the two apart.
		rec, readErr := s.ReadStock(ctx, productID)
		if readErr != nil {
			return readErr
		}
		if rec.Version != expectedVersion {
			return models.ErrVersionConflict
		}
		return models.ErrInsufficientStock
	}
	return nil
}

func (s *PostgresStore) AppendOrderRecord(ctx context.Context, order *models.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshaling order %s: %w", order.ID, err)
	}
	query := `INSERT INTO orders (order_id, status, payload) VALUES ($1, $2, $3)
	          ON CONFLICT (order_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, order.ID, string(order.Status), payload); err != nil {
		return fmt.Errorf("%w: appending order %s: %v", models.ErrLedgerUnavailable, order.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshaling order %s: %w", order.ID, err)
	}
	query := `UPDATE orders SET status = $1, payload = $2 WHERE order_id = $3`
	result, err := s.db.ExecContext(ctx, query, string(order.Status), payload, order.ID)
	if err != nil {
		return fmt.Errorf("%w: updating order %s: %v", models.ErrLedgerUnavailable, order.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for order %s: %v", models.ErrLedgerUnavailable, order.ID, err)
	}
	if rows == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM orders WHERE order_id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading order %s: %v", models.ErrLedgerUnavailable, orderID, err)
	}
	var order models.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("unmarshaling order %s: %w", orderID, err)
	}
	return &order, nil
}

func (s *PostgresStore) PendingCommits(ctx context.Context) ([]*models.Order, error) {
	var payloads [][]byte
	query := `SELECT payload FROM orders WHERE status = $1`
	if err := s.db.SelectContext(ctx, &payloads, query, string(models.OrderStatusPaid)); err != nil {
		return nil, fmt.Errorf("%w: scanning pending commits: %v", models.ErrLedgerUnavailable, err)
	}
	orders := make([]*models.Order, 0, len(payloads))
	for _, payload := range payloads {
		var order models.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("unmarshaling pending order: %w", err)
		}
		orders = append(orders, &order)
	}
	return orders, nil
}

func (s *PostgresStore) InFlightOrders(ctx context.Context) ([]*models.Order, error) {
	var payloads [][]byte
	query := `SELECT payload FROM orders WHERE status NOT IN ($1, $2, $3, $4)`
	err := s.db.SelectContext(ctx, &payloads, query,
		string(models.OrderStatusPaid), string(models.OrderStatusCommitted),
		string(models.OrderStatusCancelled), string(models.OrderStatusFailed))
	if err != nil {
		return nil, fmt.Errorf("%w: scanning in-flight orders: %v", models.ErrLedgerUnavailable, err)
	}
	orders := make([]*models.Order, 0, len(payloads))
	for _, payload := range payloads {
		var order models.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("unmarshaling in-flight order: %w", err)
		}
		orders = append(orders, &order)
	}
	return orders, nil
}

func (s *PostgresStore) ApplyCommit(ctx context.Context, reservationID string, items []models.OrderItem) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: beginning commit tx: %v", models.ErrLedgerUnavailable, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO applied_commits (reservation_id) VALUES ($1) ON CONFLICT (reservation_id) DO NOTHING`,
		reservationID)
	if err != nil {
		return false, fmt.Errorf("%w: recording commit %s: %v", models.ErrLedgerUnavailable, reservationID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected for commit %s: %v", models.ErrLedgerUnavailable, reservationID, err)
	}
	if rows == 0 {
		return false, nil
	}

	for _, item := range items {
		result, err := tx.ExecContext(ctx,
			`UPDATE stock SET reserved_qty = reserved_qty - $1, version = version + 1
			 WHERE product_id = $2 AND reserved_qty >= $1`,
			item.Quantity, item.ProductID)
		if err != nil {
			return false, fmt.Errorf("%w: committing stock for %s: %v", models.ErrLedgerUnavailable, item.ProductID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("%w: rows affected for %s: %v", models.ErrLedgerUnavailable, item.ProductID, err)
		}
		if rows == 0 {
			return false, fmt.Errorf("%w: reserved quantity missing for %s", models.ErrInsufficientStock, item.ProductID)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: committing reservation %s: %v", models.ErrLedgerUnavailable, reservationID, err)
	}
	return true, nil
}

func (s *PostgresStore) ReleaseHold(ctx context.Context, reservationID string, items []models.OrderItem) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: beginning release tx: %v", models.ErrLedgerUnavailable, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO applied_commits (reservation_id) VALUES ($1) ON CONFLICT (reservation_id) DO NOTHING`,
		reservationID)
	if err != nil {
		return false, fmt.Errorf("%w: recording release %s: %v", models.ErrLedgerUnavailable, reservationID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected for release %s: %v", models.ErrLedgerUnavailable, reservationID, err)
	}
	if rows == 0 {
		return false, nil
	}

	for _, item := range items {
		result, err := tx.ExecContext(ctx,
			`UPDATE stock SET reserved_qty = reserved_qty - $1, available_qty = available_qty + $1, version = version + 1
			 WHERE product_id = $2 AND reserved_qty >= $1`,
			item.Quantity, item.ProductID)
		if err != nil {
			return false, fmt.Errorf("%w: releasing stock for %s: %v", models.ErrLedgerUnavailable, item.ProductID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("%w: rows affected for %s: %v", models.ErrLedgerUnavailable, item.ProductID, err)
		}
		if rows == 0 {
			return false, fmt.Errorf("%w: reserved quantity missing for %s", models.ErrInsufficientStock, item.ProductID)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: releasing reservation %s: %v", models.ErrLedgerUnavailable, reservationID, err)
	}
	return true, nil
}

func (s *PostgresStore) ListStock(ctx context.Context) ([]models.StockRecord, error) {
	var records []models.StockRecord
	query := `SELECT product_id, available_qty, reserved_qty, version FROM stock ORDER BY product_id`
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("%w: listing stock: %v", models.ErrLedgerUnavailable, err)
	}
	return records, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}
