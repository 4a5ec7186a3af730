package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/clerksync/internal/model"
)

// pqUniqueViolation はPostgreSQLのunique_violationエラーコード。
const pqUniqueViolation = "23505"

// defaultQueryTimeout はディレクトリ操作1回あたりの上限時間。
// 認証パスがローカルストアの遅延でハングしないようにする。
const defaultQueryTimeout = 5 * time.Second

// PostgresUserRepo はPostgreSQLを使用したユーザーディレクトリ。
type PostgresUserRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
// timeoutに0を指定した場合はデフォルトのクエリタイムアウトを使用する。
func NewPostgresUserRepo(db *sql.DB, timeout time.Duration) *PostgresUserRepo {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &PostgresUserRepo{db: db, timeout: timeout}
}

// withTimeout はクエリタイムアウト付きのコンテキストを生成する。
func (r *PostgresUserRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// FindActiveByClerkID は認証用ビューでユーザーを検索する。
// 論理削除済みの行は除外する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindActiveByClerkID(ctx context.Context, clerkID string) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, clerk_id, email, created_at, deleted_at
		 FROM users WHERE clerk_id = $1 AND deleted_at IS NULL`,
		clerkID,
	).Scan(&user.ID, &user.ClerkID, &user.Email, &user.CreatedAt, &user.DeletedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active user by clerk_id: %w", err)
	}

	return user, nil
}

// FindByClerkID は論理削除済みの行も含めてユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByClerkID(ctx context.Context, clerkID string) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, clerk_id, email, created_at, deleted_at
		 FROM users WHERE clerk_id = $1`,
		clerkID,
	).Scan(&user.ID, &user.ClerkID, &user.Email, &user.CreatedAt, &user.DeletedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by clerk_id: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成する。
// clerk_idのユニーク制約違反はmodel.ErrCodeUserAlreadyExistsに変換する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, clerk_id, email, created_at)
		 VALUES ($1, $2, $3, $4)`,
		user.ID, user.ClerkID, user.Email, user.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return model.NewUserAlreadyExistsError(user.ClerkID)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// UpdateEmail は指定clerk_idのメールアドレスを更新し、更新後の行を返す。
func (r *PostgresUserRepo) UpdateEmail(ctx context.Context, clerkID, email string) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET email = $2 WHERE clerk_id = $1
		 RETURNING id, clerk_id, email, created_at, deleted_at`,
		clerkID, email,
	).Scan(&user.ID, &user.ClerkID, &user.Email, &user.CreatedAt, &user.DeletedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewUserNotFoundError(clerkID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user email: %w", err)
	}

	return user, nil
}

// SoftDelete はdeleted_atを設定し、更新後の行を返す。
// WHERE句のdeleted_at IS NULL条件により再実行しても二重更新にならない。
func (r *PostgresUserRepo) SoftDelete(ctx context.Context, clerkID string) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET deleted_at = now()
		 WHERE clerk_id = $1 AND deleted_at IS NULL
		 RETURNING id, clerk_id, email, created_at, deleted_at`,
		clerkID,
	).Scan(&user.ID, &user.ClerkID, &user.Email, &user.CreatedAt, &user.DeletedAt)

	if errors.Is(err, sql.ErrNoRows) {
		// 行が存在しないか、すでに論理削除済み。現在の行で区別する。
		existing, findErr := r.FindByClerkID(ctx, clerkID)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, model.NewUserNotFoundError(clerkID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to soft delete user: %w", err)
	}

	return user, nil
}

// HardDelete は行を物理削除する。管理操作専用。
func (r *PostgresUserRepo) HardDelete(ctx context.Context, clerkID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE clerk_id = $1`,
		clerkID,
	)
	if err != nil {
		return fmt.Errorf("failed to hard delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError(clerkID)
	}
	return nil
}

// ListActive は非削除ユーザーを作成日時の降順で返す。
func (r *PostgresUserRepo) ListActive(ctx context.Context) ([]*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, clerk_id, email, created_at, deleted_at
		 FROM users WHERE deleted_at IS NULL
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		if err := rows.Scan(&user.ID, &user.ClerkID, &user.Email, &user.CreatedAt, &user.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}

	return users, nil
}

// PurgeDeletedBefore はdeleted_atがcutoffより古い行を物理削除する。
func (r *PostgresUserRepo) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted users: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
