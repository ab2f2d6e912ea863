package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/PhotoshootBot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, chat_id, amount, package_coins, status, authority, payment_link, COALESCE(transaction_id, ''), created_at, completed_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p           models.Payment
		status      string
		completedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.ChatID, &p.Amount, &p.PackageCoins, &status, &p.Authority, &p.PaymentLink, &p.TransactionID, &p.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	p.Status = models.PaymentStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func (r *PaymentRepository) getOne(ctx context.Context, where string, args ...any) (*models.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PaymentInitiated
	}
	const query = `
INSERT INTO payments (id, chat_id, amount, package_coins, status, authority, payment_link)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.ChatID, p.Amount, p.PackageCoins, p.Status, p.Authority, p.PaymentLink); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetForChat(ctx context.Context, id string, chatID int64) (*models.Payment, error) {
	return r.getOne(ctx, `id = ? AND chat_id = ?`, id, chatID)
}

func (r *PaymentRepository) GetByAuthority(ctx context.Context, authority string) (*models.Payment, error) {
	return r.getOne(ctx, `authority = ?`, authority)
}

// Complete marks the payment completed and credits its coins to the owner. It
// reports false, without crediting, when the payment was already completed, and
// ErrPaymentFailed when it was rejected earlier.
func (r *PaymentRepository) Complete(ctx context.Context, p *models.Payment, refID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		chatID int64
		coins  int
		status string
	)
	row := tx.QueryRowContext(ctx, `SELECT chat_id, package_coins, status FROM payments WHERE id = ? FOR UPDATE`, p.ID)
	if err := row.Scan(&chatID, &coins, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("payment %s not found", p.ID)
		}
		return false, fmt.Errorf("lock payment: %w", err)
	}
	switch models.PaymentStatus(status) {
	case models.PaymentCompleted:
		return false, nil
	case models.PaymentFailed:
		return false, ErrPaymentFailed
	}

	res, err := tx.ExecContext(ctx, `
UPDATE payments SET status = ?, transaction_id = NULLIF(?, ''), completed_at = UTC_TIMESTAMP()
WHERE id = ? AND status = ?`, models.PaymentCompleted, refID, p.ID, models.PaymentInitiated)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + ?, paid = 1, updated_at = NOW() WHERE chat_id = ?`, coins, chatID); err != nil {
		return false, fmt.Errorf("credit payment coins: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment tx: %w", err)
	}
	p.Status = models.PaymentCompleted
	p.TransactionID = refID
	return true, nil
}

// MarkFailed flags a payment the gateway rejected, leaving completed ones alone.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id string) error {
	const query = `UPDATE payments SET status = ? WHERE id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, models.PaymentFailed, id, models.PaymentInitiated); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}
