package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/PhotoshootBot/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

const generationColumns = `
id, chat_id, photo_file_id, is_paid_user,
COALESCE(service, ''), COALESCE(generation_mode, ''), COALESCE(model_gender, ''), COALESCE(template_id, ''),
COALESCE(product_name, ''), COALESCE(description, ''), COALESCE(input_url, ''), COALESCE(prompt, ''),
COALESCE(model_name, ''), COALESCE(job_id, ''), status, COALESCE(result_url, ''), COALESCE(error, ''),
cost, refunded, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var (
		g           models.Generation
		service     string
		mode        string
		gender      string
		status      string
		cost        sql.NullInt64
		completedAt sql.NullTime
	)
	err := row.Scan(
		&g.ID, &g.ChatID, &g.PhotoFileID, &g.IsPaidUser,
		&service, &mode, &gender, &g.TemplateID,
		&g.ProductName, &g.Description, &g.InputURL, &g.Prompt,
		&g.ModelName, &g.JobID, &status, &g.ResultURL, &g.Error,
		&cost, &g.Refunded, &g.CreatedAt, &g.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Service = models.Service(service)
	g.Mode = models.Mode(mode)
	g.ModelGender = models.Gender(gender)
	g.Status = models.Status(status)
	if cost.Valid {
		c := int(cost.Int64)
		g.Cost = &c
	}
	if completedAt.Valid {
		t := completedAt.Time
		g.CompletedAt = &t
	}
	return &g, nil
}

func (r *GenerationRepository) getOne(ctx context.Context, where string, args ...any) (*models.Generation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE `+where, args...)
	g, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	return g, nil
}

func (r *GenerationRepository) list(ctx context.Context, query string, args ...any) ([]models.Generation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE `+query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation list: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Create inserts a new record in the init status and assigns its id.
func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.StatusInit
	}
	const query = `
INSERT INTO generations (id, chat_id, photo_file_id, is_paid_user, status)
VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.ChatID, g.PhotoFileID, g.IsPaidUser, g.Status); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	return nil
}

func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	return r.getOne(ctx, `id = ?`, id)
}

// GetForChat returns the record only when it belongs to the chat.
func (r *GenerationRepository) GetForChat(ctx context.Context, id string, chatID int64) (*models.Generation, error) {
	return r.getOne(ctx, `id = ? AND chat_id = ?`, id, chatID)
}

func (r *GenerationRepository) GetByJobID(ctx context.Context, jobID string) (*models.Generation, error) {
	return r.getOne(ctx, `job_id = ?`, jobID)
}

// LatestOpen returns the newest record of the chat still being composed.
func (r *GenerationRepository) LatestOpen(ctx context.Context, chatID int64) (*models.Generation, error) {
	return r.getOne(ctx, `chat_id = ? AND status IN (?, ?, ?, ?, ?, ?, ?) ORDER BY created_at DESC LIMIT 1`,
		chatID,
		models.StatusInit,
		models.StatusAwaitingModeSelection,
		models.StatusAwaitingModelGender,
		models.StatusAwaitingTemplateSelection,
		models.StatusAwaitingDescription,
		models.StatusAwaitingProductName,
		models.StatusAwaitingConfirmation,
	)
}

func (r *GenerationRepository) ListByChat(ctx context.Context, chatID int64, limit int) ([]models.Generation, error) {
	return r.list(ctx, `chat_id = ? AND status <> ? ORDER BY created_at DESC LIMIT ?`, chatID, models.StatusInit, limit)
}

// ListQueued returns the oldest queued records first.
func (r *GenerationRepository) ListQueued(ctx context.Context, limit int) ([]models.Generation, error) {
	return r.list(ctx, `status = ? ORDER BY created_at ASC LIMIT ?`, models.StatusInQueue, limit)
}

func (r *GenerationRepository) CountByStatus(ctx context.Context, chatID int64, status models.Status, excludeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM generations WHERE chat_id = ? AND status = ? AND id <> ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, chatID, status, excludeID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count generations: %w", err)
	}
	return count, nil
}

// Update persists g only if the stored status still equals from.
func (r *GenerationRepository) Update(ctx context.Context, g *models.Generation, from models.Status) error {
	const query = `
UPDATE generations SET
    service = NULLIF(?, ''), generation_mode = NULLIF(?, ''), model_gender = NULLIF(?, ''), template_id = NULLIF(?, ''),
    product_name = NULLIF(?, ''), description = NULLIF(?, ''), input_url = NULLIF(?, ''), prompt = NULLIF(?, ''),
    model_name = NULLIF(?, ''), job_id = NULLIF(?, ''), status = ?, is_paid_user = ?,
    result_url = NULLIF(?, ''), error = NULLIF(?, ''), completed_at = ?, updated_at = NOW()
WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query,
		g.Service, g.Mode, g.ModelGender, g.TemplateID,
		g.ProductName, g.Description, g.InputURL, g.Prompt,
		g.ModelName, g.JobID, g.Status, g.IsPaidUser,
		g.ResultURL, g.Error, nullTime(g.CompletedAt),
		g.ID, from,
	)
	if err != nil {
		return fmt.Errorf("update generation: %w", err)
	}
	return expectOneRow(res)
}

// Enqueue persists g, already moved to its queued status, and debits cost from
// the owner in one transaction. The owner row stays locked for the whole step so
// concurrent accepts of one chat are serialised. With singleQueued set, another
// queued record of the chat aborts with ErrQueueLimit. It returns the balance
// left after the debit.
func (r *GenerationRepository) Enqueue(ctx context.Context, g *models.Generation, from models.Status, cost int, singleQueued bool) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var credits int
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE chat_id = ? FOR UPDATE`, g.ChatID).Scan(&credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("lock user: %w", err)
	}

	if singleQueued {
		var queued int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM generations WHERE chat_id = ? AND status = ? AND id <> ?`,
			g.ChatID, g.Status, g.ID,
		).Scan(&queued); err != nil {
			return 0, fmt.Errorf("count queued generations: %w", err)
		}
		if queued > 0 {
			return 0, ErrQueueLimit
		}
	}

	res, err := tx.ExecContext(ctx, `
UPDATE generations SET status = ?, cost = ?, is_paid_user = ?, input_url = NULLIF(?, ''), prompt = NULLIF(?, ''),
    model_name = NULLIF(?, ''), error = NULL, updated_at = NOW()
WHERE id = ? AND status = ? AND cost IS NULL`,
		g.Status, cost, g.IsPaidUser, g.InputURL, g.Prompt, g.ModelName,
		g.ID, from,
	)
	if err != nil {
		return 0, fmt.Errorf("queue generation: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, `UPDATE users SET credits = credits - ?, updated_at = NOW() WHERE chat_id = ? AND credits >= ?`, cost, g.ChatID, cost)
	if err != nil {
		return 0, fmt.Errorf("debit credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		return 0, ErrInsufficientCredits
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit queue tx: %w", err)
	}
	g.Cost = &cost
	g.Error = ""
	return credits - cost, nil
}

// Release persists the record leaving from (usually into cancelled or error) and
// returns its debited cost to the owner unless that already happened. It reports
// the amount refunded.
func (r *GenerationRepository) Release(ctx context.Context, g *models.Generation, from models.Status) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		cost     sql.NullInt64
		refunded bool
	)
	row := tx.QueryRowContext(ctx, `SELECT cost, refunded FROM generations WHERE id = ? AND status = ? FOR UPDATE`, g.ID, from)
	if err := row.Scan(&cost, &refunded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrStaleStatus
		}
		return 0, fmt.Errorf("lock generation: %w", err)
	}

	amount := 0
	if cost.Valid && cost.Int64 > 0 && !refunded {
		amount = int(cost.Int64)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE generations SET status = ?, error = NULLIF(?, ''), completed_at = ?, refunded = refunded OR ?, updated_at = NOW()
WHERE id = ?`,
		g.Status, g.Error, nullTime(g.CompletedAt), amount > 0, g.ID,
	); err != nil {
		return 0, fmt.Errorf("release generation: %w", err)
	}

	if amount > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + ?, updated_at = NOW() WHERE chat_id = ?`, amount, g.ChatID); err != nil {
			return 0, fmt.Errorf("refund credits: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit release tx: %w", err)
	}
	if amount > 0 {
		g.Refunded = true
	}
	return amount, nil
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
