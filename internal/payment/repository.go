package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is a row of the transactions journal.
type TransactionRecord struct {
	ID            int64
	Provider      Provider
	TransactionID string
	Reference     string
	Amount        decimal.Decimal
	Currency      Currency
	Status        TransactionStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository persists what the service learns about transactions: sends
// it dispatched and webhooks it received.
type Repository interface {
	SaveTransaction(ctx context.Context, resp *PaymentResponse) error
	UpdateTransactionStatus(ctx context.Context, provider Provider, transactionID string, status TransactionStatus) error
	GetTransaction(ctx context.Context, provider Provider, transactionID string) (*TransactionRecord, error)

	// SaveWebhook only reports a duplicate once the earlier delivery was
	// marked processed.
	SaveWebhook(ctx context.Context, event *WebhookEvent, payload json.RawMessage) (webhookID int64, isDuplicate bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SaveTransaction(ctx context.Context, resp *PaymentResponse) error {
	const q = `
	INSERT INTO transactions (provider, transaction_id, reference, amount, currency, status)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (provider, transaction_id)
	DO UPDATE SET status = EXCLUDED.status, updated_at = now();
	`

	_, err := r.db.ExecContext(ctx, q,
		string(resp.Provider), resp.TransactionID, resp.Reference,
		resp.Amount, string(resp.Currency), string(resp.Status),
	)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

func (r *repository) UpdateTransactionStatus(ctx context.Context, provider Provider, transactionID string, status TransactionStatus) error {
	const q = `
	UPDATE transactions
	SET status = $3, updated_at = now()
	WHERE provider = $1 AND transaction_id = $2;
	`

	res, err := r.db.ExecContext(ctx, q, string(provider), transactionID, string(status))
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if n == 0 {
		return NewTransactionNotFoundError(provider, transactionID)
	}
	return nil
}

func (r *repository) GetTransaction(ctx context.Context, provider Provider, transactionID string) (*TransactionRecord, error) {
	const q = `
	SELECT id, provider, transaction_id, reference, amount, currency, status, created_at, updated_at
	FROM transactions
	WHERE provider = $1 AND transaction_id = $2;
	`

	var rec TransactionRecord
	var prov, cur, status string
	err := r.db.QueryRowContext(ctx, q, string(provider), transactionID).Scan(
		&rec.ID, &prov, &rec.TransactionID, &rec.Reference,
		&rec.Amount, &cur, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewTransactionNotFoundError(provider, transactionID)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	rec.Provider = Provider(prov)
	rec.Currency = Currency(cur)
	rec.Status = TransactionStatus(status)
	return &rec, nil
}

// WebhookEventID is the dedupe key of an event. Providers that send no
// event id are keyed on the transaction and the status they report.
func WebhookEventID(event *WebhookEvent) string {
	if event.EventID != "" {
		return event.EventID
	}
	return fmt.Sprintf("%s:%s:%s", event.TransactionID, event.EventType, event.Status)
}

// SaveWebhook stores a verified event once per provider and event id.
// A replay of a processed event returns isDuplicate and no error. A replay
// of an event that was never processed claims the stored row again so the
// provider's retry gets applied.
func (r *repository) SaveWebhook(ctx context.Context, event *WebhookEvent, payload json.RawMessage) (int64, bool, error) {
	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_type,
		event_id,
		transaction_id,
		status,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET process_error = NULL
	WHERE payment_webhooks.processed_at IS NULL
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(
		ctx,
		q,
		string(event.Provider),
		event.EventType,
		WebhookEventID(event),
		event.TransactionID,
		string(event.Status),
		event.Verified(),
		[]byte(payload),
	).Scan(&id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("save webhook: %w", err)
	}

	return id, false, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	const q = `
	UPDATE payment_webhooks
	SET processed_at = now()
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	const q = `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID, reason)
	return err
}
