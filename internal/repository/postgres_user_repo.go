package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findBy(ctx, `WHERE id = $1`, id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findBy(ctx, `WHERE email = $1`, email)
}

// findBy は条件句を指定してユーザーを1件取得する。
func (r *PostgresUserRepo) findBy(ctx context.Context, where string, arg any) (*model.User, error) {
	user := &model.User{}
	var mfaSecret sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, mfa_enabled, mfa_secret, created_at, updated_at
		 FROM users `+where,
		arg,
	).Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.MFAEnabled, &mfaSecret, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.MFASecret = mfaSecret.String

	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, mfa_enabled, mfa_secret, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, user.PasswordHash,
		user.MFAEnabled, nullableString(user.MFASecret), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateMFA はユーザーのMFA設定を1回のUPDATEで更新する。
// 有効化とシークレット保存、失効とシークレット削除が常に同一文で行われるため、
// mfa_enabledとmfa_secretが食い違った状態は途中観測されない。
func (r *PostgresUserRepo) UpdateMFA(ctx context.Context, userID string, enabled bool, secret string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_enabled = $1, mfa_secret = $2, updated_at = now() WHERE id = $3`,
		enabled, nullableString(secret), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update mfa settings: %w", err)
	}
	return nil
}

// nullableString は空文字列をNULLに変換する。
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
