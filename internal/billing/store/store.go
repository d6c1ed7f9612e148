// Package store implements the Transaction Store component: relational
// persistence for BillingTransaction rows with a unique constraint on
// toll_event_id, backed by Postgres via pgx, per spec §3 and §6.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/smarttoll/pipeline/internal/billing/models"
)

// uniqueViolation is the Postgres SQLSTATE for a unique_violation, used
// to distinguish a concurrent duplicate insert from any other DB error
// per spec §4.5 step 2.
const uniqueViolation = "23505"

// ErrDuplicateTollEvent is returned by InsertPending when a row with the
// same toll_event_id already exists, whether inserted by this goroutine
// racing another instance or already present from a prior delivery.
var ErrDuplicateTollEvent = errors.New("store: duplicate toll_event_id")

const schemaDDL = `
CREATE TABLE IF NOT EXISTS billing_transactions (
	id                     BIGSERIAL PRIMARY KEY,
	toll_event_id          TEXT NOT NULL,
	vehicle_id             TEXT NOT NULL,
	amount                 NUMERIC(10,2) NOT NULL,
	currency               CHAR(3) NOT NULL,
	status                 VARCHAR(20) NOT NULL DEFAULT 'PENDING',
	transaction_time       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated           TIMESTAMPTZ NOT NULL DEFAULT now(),
	payment_gateway_ref    TEXT,
	payment_method_details TEXT,
	error_message          TEXT,
	retry_count            INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS ix_billing_transactions_toll_event_id
	ON billing_transactions (toll_event_id);
CREATE INDEX IF NOT EXISTS ix_billing_transactions_vehicle_id
	ON billing_transactions (vehicle_id);
CREATE INDEX IF NOT EXISTS ix_billing_transactions_status
	ON billing_transactions (status);
CREATE INDEX IF NOT EXISTS ix_billing_transactions_vehicle_status
	ON billing_transactions (vehicle_id, status);
CREATE INDEX IF NOT EXISTS ix_billing_transactions_payment_gateway_ref
	ON billing_transactions (payment_gateway_ref);

CREATE OR REPLACE FUNCTION billing_transactions_set_last_updated()
RETURNS TRIGGER AS $$
BEGIN
	NEW.last_updated = now();
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_billing_transactions_last_updated ON billing_transactions;
CREATE TRIGGER trg_billing_transactions_last_updated
	BEFORE UPDATE ON billing_transactions
	FOR EACH ROW
	EXECUTE FUNCTION billing_transactions_set_last_updated();
`

// Store is the Transaction Store's Postgres-backed implementation.
type Store struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
}

// New wraps an existing pgxpool.Pool. A circuit breaker trips after a
// run of consecutive DB failures so a Postgres outage fails fast across
// every in-flight Billing Consumer goroutine instead of each one
// queuing its own connection-timeout wait.
func New(pool *pgxpool.Pool) *Store {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "billing-transaction-store",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
	})
	return &Store{pool: pool, breaker: breaker}
}

// guard routes a DB call through the circuit breaker, translating an
// open-breaker rejection into an ordinary error the caller already
// knows how to treat as transient.
func (s *Store) guard(fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// EnsureSchema creates the table, its indexes, and the last-updated
// trigger if they do not already exist. This stands in for the
// migration tooling spec.md declares out of scope while still giving
// the in-scope Transaction Store a concrete schema to run against.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Probe implements spec §4.5 step 1: look up an existing row by
// tollEventID. A nil, nil result means no row exists yet.
func (s *Store) Probe(ctx context.Context, tollEventID string) (*models.BillingTransaction, error) {
	var tx *models.BillingTransaction
	guardErr := s.guard(func() error {
		row := s.pool.QueryRow(ctx, `
			SELECT id, toll_event_id, vehicle_id, amount, currency, status,
			       transaction_time, last_updated, payment_gateway_ref,
			       payment_method_details, error_message, retry_count
			FROM billing_transactions
			WHERE toll_event_id = $1
		`, tollEventID)

		var err error
		tx, err = scanTransaction(row)
		if errors.Is(err, pgx.ErrNoRows) {
			tx = nil
			return nil
		}
		return err
	})
	if guardErr != nil {
		return nil, fmt.Errorf("store: probe %q: %w", tollEventID, guardErr)
	}
	return tx, nil
}

// InsertPending implements spec §4.5 step 2: insert a new PENDING row.
// The unique constraint on toll_event_id wins any concurrent race; a
// constraint violation surfaces as ErrDuplicateTollEvent so the caller
// treats it as already-handled rather than a processing failure.
func (s *Store) InsertPending(ctx context.Context, vehicleID, tollEventID string, amount decimal.Decimal, currency string) (int64, error) {
	var id int64
	var duplicate bool
	guardErr := s.guard(func() error {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO billing_transactions (toll_event_id, vehicle_id, amount, currency, status, retry_count)
			VALUES ($1, $2, $3, $4, 'PENDING', 0)
			RETURNING id
		`, tollEventID, vehicleID, amount, currency).Scan(&id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				// A concurrent duplicate insert is an expected outcome,
				// not a dependency failure: it must not count toward the
				// breaker's trip threshold.
				duplicate = true
				return nil
			}
			return err
		}
		return nil
	})
	if duplicate {
		return 0, ErrDuplicateTollEvent
	}
	if guardErr != nil {
		return 0, fmt.Errorf("store: insert pending for %q: %w", tollEventID, guardErr)
	}
	return id, nil
}

// MarkProcessing implements spec §4.5 step 3: advance status to
// PROCESSING and increment retry_count before the gateway call.
func (s *Store) MarkProcessing(ctx context.Context, id int64) error {
	err := s.guard(func() error {
		_, err := s.pool.Exec(ctx, `
			UPDATE billing_transactions
			SET status = 'PROCESSING', retry_count = retry_count + 1
			WHERE id = $1
		`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: mark processing %d: %w", id, err)
	}
	return nil
}

// FinalizeStatus implements spec §4.5 step 5's DB write: persist the
// terminal status, gateway reference, and error message. Callers must
// still publish the PaymentResult even if this returns an error.
func (s *Store) FinalizeStatus(ctx context.Context, id int64, status models.Status, gatewayRef, errMsg *string) error {
	err := s.guard(func() error {
		_, err := s.pool.Exec(ctx, `
			UPDATE billing_transactions
			SET status = $2, payment_gateway_ref = $3, error_message = $4
			WHERE id = $1
		`, id, string(status), gatewayRef, errMsg)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: finalize status %d: %w", id, err)
	}
	return nil
}

// ListStaleNonTerminal returns every row whose status is neither SUCCESS
// nor FAILED and whose last_updated is older than olderThan. Spec §9
// leaves reconciliation of these rows out of scope; this method exists
// so a reconciliation job could be built on top without changing the
// store's contract.
func (s *Store) ListStaleNonTerminal(ctx context.Context, olderThan time.Duration) ([]models.BillingTransaction, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.pool.Query(ctx, `
		SELECT id, toll_event_id, vehicle_id, amount, currency, status,
		       transaction_time, last_updated, payment_gateway_ref,
		       payment_method_details, error_message, retry_count
		FROM billing_transactions
		WHERE status NOT IN ('SUCCESS', 'FAILED') AND last_updated < $1
		ORDER BY last_updated ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list stale non-terminal: %w", err)
	}
	defer rows.Close()

	var out []models.BillingTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan stale row: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// ListByVehicle returns a vehicle's most recent transactions, newest
// first, capped at limit. It backs the query surface's
// GET /transactions/:vehicleId endpoint (spec §6).
func (s *Store) ListByVehicle(ctx context.Context, vehicleID string, limit int) ([]models.BillingTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, toll_event_id, vehicle_id, amount, currency, status,
		       transaction_time, last_updated, payment_gateway_ref,
		       payment_method_details, error_message, retry_count
		FROM billing_transactions
		WHERE vehicle_id = $1
		ORDER BY transaction_time DESC
		LIMIT $2
	`, vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list by vehicle %q: %w", vehicleID, err)
	}
	defer rows.Close()

	var out []models.BillingTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan vehicle row: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// Ping verifies connectivity, used by the billing worker's /readyz
// handler.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool's connections.
func (s *Store) Close() {
	s.pool.Close()
}

// rowScanner abstracts over pgx.Row and pgx.Rows, both of which expose a
// Scan method with the same signature.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.BillingTransaction, error) {
	var tx models.BillingTransaction
	var status string
	err := row.Scan(
		&tx.ID, &tx.TollEventID, &tx.VehicleID, &tx.Amount, &tx.Currency, &status,
		&tx.TransactionTime, &tx.LastUpdated, &tx.PaymentGatewayRef,
		&tx.PaymentMethodDetails, &tx.ErrorMessage, &tx.RetryCount,
	)
	if err != nil {
		return nil, err
	}
	tx.Status = models.Status(status)
	return &tx, nil
}
