package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authbase/internal/model"
)

const userColumns = `id, email, name, image, role, password_hash, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

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
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
// メールアドレスは大文字小文字を区別せずに比較する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateWithAccount はユーザーとaccountを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	role := user.Role
	if role == "" {
		role = model.RoleUser
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, image, role, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, user.Image, string(role), user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, provider, provider_account_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.ID, account.UserID, account.Provider, account.ProviderAccountID, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateProfile は表示名・プロフィール画像URLを同一のUPDATE文で更新し、更新後のユーザーを返す。
// 該当ユーザーがいない場合はnilを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
		   name = CASE WHEN $2::boolean THEN $3::text ELSE name END,
		   image = CASE WHEN $4::boolean THEN $5::text ELSE image END,
		   updated_at = $6
		 WHERE id = $1 RETURNING `+userColumns,
		id, update.SetName, update.Name, update.SetImage, update.Image, time.Now(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	return user, nil
}

// scanUser はusersテーブルの1行をmodel.Userに変換する。
// NULL列はnilポインタとして扱う。
func scanUser(row rowScanner) (*model.User, error) {
	var (
		user         model.User
		email        sql.NullString
		name         sql.NullString
		image        sql.NullString
		role         string
		passwordHash sql.NullString
	)
	if err := row.Scan(&user.ID, &email, &name, &image, &role, &passwordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}

	user.Email = nullStringPtr(email)
	user.Name = nullStringPtr(name)
	user.Image = nullStringPtr(image)
	user.PasswordHash = nullStringPtr(passwordHash)
	// 未知のロールはUSERとして扱う
	if parsed, ok := model.ParseRole(role); ok {
		user.Role = parsed
	} else {
		user.Role = model.RoleUser
	}

	return &user, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
