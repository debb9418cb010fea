package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rulewatch/internal/domain"

	"go.uber.org/zap"
)

// UsersRepository 用户、推送端点和值班档期仓库
// 用户身份由外部系统签发，这里只读通知与授权所需字段
type UsersRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUsersRepository 创建用户仓库
func NewUsersRepository(db *sql.DB, logger *zap.Logger) *UsersRepository {
	return &UsersRepository{db: db, logger: logger}
}

const userColumns = `
	user_id,
	name,
	email,
	role,
	enable_push,
	enable_email,
	quiet_start,
	quiet_end
`

func scanUser(scan func(dest ...any) error) (*domain.User, error) {
	var user domain.User
	var quietStart, quietEnd sql.NullInt64

	err := scan(
		&user.UserID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.EnablePush,
		&user.EnableEmail,
		&quietStart,
		&quietEnd,
	)
	if err != nil {
		return nil, err
	}

	if quietStart.Valid {
		c := domain.ClockTime(quietStart.Int64)
		user.QuietStart = &c
	}
	if quietEnd.Valid {
		c := domain.ClockTime(quietEnd.Int64)
		user.QuietEnd = &c
	}
	return &user, nil
}

// GetUser 根据 user_id 查询用户
func (r *UsersRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE user_id = $1`, userColumns)

	user, err := scanUser(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, userID).Scan(dest...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetUserByEmail 根据邮箱查询用户（通知目标解析用）
func (r *UsersRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)

	user, err := scanUser(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, email).Scan(dest...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", email, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	return user, nil
}

// GetUserRole 查询用户角色（权限解析用）
func (r *UsersRepository) GetUserRole(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}

	var role string
	err := r.db.QueryRowContext(ctx, `SELECT role FROM users WHERE user_id = $1`, userID).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("failed to query user role: %w", err)
	}
	return role, nil
}

// FindUsersByRole 查询某角色的全部用户（角色广播用）
func (r *UsersRepository) FindUsersByRole(ctx context.Context, role string) ([]*domain.User, error) {
	if role == "" {
		return nil, fmt.Errorf("role is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(role) = LOWER($1)`, userColumns)

	rows, err := r.db.QueryContext(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by role: %w", err)
	}
	defer rows.Close()

	users := []*domain.User{}
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// ListActiveDeviceTokens 查询用户当前有效的推送端点
func (r *UsersRepository) ListActiveDeviceTokens(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT push_token FROM user_devices WHERE user_id = $1 AND active = true`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device tokens: %w", err)
	}
	return tokens, nil
}

// FindDutyUser 查询某通道某时刻的值班人
// 没有档期覆盖该时刻时返回 (nil, nil)
func (r *UsersRepository) FindDutyUser(ctx context.Context, channel string, at time.Time) (*domain.User, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel is required")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE user_id = (
			SELECT d.user_id FROM duty_slots d
			WHERE d.channel = $1 AND d.starts_at <= $2 AND d.ends_at >= $2
			ORDER BY d.starts_at DESC
			LIMIT 1
		)
	`, userColumns)

	user, err := scanUser(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, channel, at).Scan(dest...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query duty user: %w", err)
	}
	return user, nil
}
