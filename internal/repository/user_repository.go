package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/digkill/PhotoshootBot/internal/models"
)

const mysqlDuplicateEntry = 1062

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Profile is the chat identity as reported by the transport.
type Profile struct {
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
}

func (r *UserRepository) FindByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	const query = `
SELECT id, chat_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), credits, paid, referred_by, created_at, updated_at
FROM users WHERE chat_id = ?`
	row := r.db.QueryRowContext(ctx, query, chatID)
	var u models.User
	var referredBy sql.NullInt64
	if err := row.Scan(&u.ID, &u.ChatID, &u.Username, &u.FirstName, &u.LastName, &u.Credits, &u.Paid, &referredBy, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if referredBy.Valid {
		u.ReferredBy = &referredBy.Int64
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (chat_id, username, first_name, last_name, credits, paid, referred_by)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`
	var referredBy any
	if user.ReferredBy != nil {
		referredBy = *user.ReferredBy
	}
	res, err := r.db.ExecContext(ctx, query, user.ChatID, user.Username, user.FirstName, user.LastName, user.Credits, user.Paid, referredBy)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	user.ID = id
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, p Profile) error {
	const query = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), last_name = NULLIF(?, ''), updated_at = NOW()
WHERE chat_id = ?`
	if _, err := r.db.ExecContext(ctx, query, p.Username, p.FirstName, p.LastName, p.ChatID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// Ensure returns the user for the chat, creating it on first contact. referredBy is
// only recorded for newly created users.
func (r *UserRepository) Ensure(ctx context.Context, p Profile, giftCredits int, referredBy *int64) (*models.User, bool, error) {
	user, err := r.FindByChatID(ctx, p.ChatID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		if user.Username != p.Username || user.FirstName != p.FirstName || user.LastName != p.LastName {
			if err := r.UpdateProfile(ctx, p); err != nil {
				return nil, false, err
			}
			user.Username, user.FirstName, user.LastName = p.Username, p.FirstName, p.LastName
		}
		return user, false, nil
	}
	created, err := r.Create(ctx, &models.User{
		ChatID:     p.ChatID,
		Username:   p.Username,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Credits:    giftCredits,
		ReferredBy: referredBy,
	})
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			// Lost a first-contact race with another update from the same chat.
			user, findErr := r.FindByChatID(ctx, p.ChatID)
			if findErr != nil {
				return nil, false, findErr
			}
			return user, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

// AddCredits applies delta to the balance, never going below zero.
func (r *UserRepository) AddCredits(ctx context.Context, chatID int64, delta int) error {
	const query = `UPDATE users SET credits = GREATEST(credits + ?, 0), updated_at = NOW() WHERE chat_id = ?`
	res, err := r.db.ExecContext(ctx, query, delta, chatID)
	if err != nil {
		return fmt.Errorf("update credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credits rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d not found", chatID)
	}
	return nil
}

func (r *UserRepository) ListChatIDs(ctx context.Context) ([]int64, error) {
	return r.listChatIDs(ctx, `SELECT chat_id FROM users`)
}

// ListReferrals returns the chats that joined through the given chat's invite link.
func (r *UserRepository) ListReferrals(ctx context.Context, chatID int64) ([]int64, error) {
	return r.listChatIDs(ctx, `SELECT chat_id FROM users WHERE referred_by = ? ORDER BY id`, chatID)
}

func (r *UserRepository) listChatIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
