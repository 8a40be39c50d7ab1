package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"coffeechain/pkg/storage"
)

// Repository persists entries through database/sql so the backend stays swappable.
type Repository struct {
	db *storage.DB
}

// NewRepository wraps an open database.
func NewRepository(db *storage.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the journal table for the database's dialect.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if r.db.Dialect == storage.Postgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	return r.db.EnsureSchema(ctx,
		`CREATE TABLE IF NOT EXISTS ledger_transactions (
			id `+id+`,
			operation TEXT NOT NULL,
			batch_id TEXT,
			params TEXT,
			tx_hash TEXT,
			block_number TEXT,
			gas_used TEXT,
			status TEXT NOT NULL,
			error TEXT,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_transactions_batch ON ledger_transactions (batch_id)`,
	)
}

// Save inserts an entry and returns it with its generated identifier.
func (r *Repository) Save(ctx context.Context, e Entry) (Entry, error) {
	query := r.db.Rebind(`INSERT INTO ledger_transactions
		(operation, batch_id, params, tx_hash, block_number, gas_used, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := r.db.QueryRowContext(ctx, query,
		e.Operation, e.BatchID, e.Params, e.TxHash, e.BlockNumber, e.GasUsed, e.Status, e.Error, e.RecordedAt.UTC(),
	).Scan(&e.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: save: %w", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Entry, error) {
	query := r.db.Rebind(`SELECT id, operation, batch_id, params, tx_hash, block_number, gas_used, status, error, recorded_at
		FROM ledger_transactions ORDER BY id DESC LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var batchID, params, txHash, blockNumber, gasUsed, errMsg sql.NullString
		var recordedAt time.Time
		if err := rows.Scan(&e.ID, &e.Operation, &batchID, &params, &txHash, &blockNumber, &gasUsed, &e.Status, &errMsg, &recordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.BatchID = batchID.String
		e.Params = params.String
		e.TxHash = txHash.String
		e.BlockNumber = blockNumber.String
		e.GasUsed = gasUsed.String
		e.Error = errMsg.String
		e.RecordedAt = recordedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
