package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/notifier/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate は通知テーブルのマイグレーションを適用する。
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		return fmt.Errorf("通知スキーマの適用に失敗: %w", err)
	}
	return nil
}

// selectColumns はNotificationのscan順に並べたカラム。
const selectColumns = `id, user_id, title, message, is_read, created_at`

// scopeCondition はasUserが空なら全件、そうでなければ所有者で絞り込む条件。
// プレースホルダにはasUserを2回渡す。
const scopeCondition = `(? = '' OR user_id = ?)`

// querier は*sql.DBと*sql.Txの共通部分。
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store はSQLite上の通知レコードを操作する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// now は作成日時の採番に使う時計。
	now func() time.Time
}

// New は新しいStoreを生成する。スキーマは事前にMigrateで適用しておくこと。
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create は通知を保存し、採番後のレコードを返す。
// asUserが空でなくn.UserIDと異なる場合はErrOwnershipMismatchを返す。
func (s *Store) Create(ctx context.Context, n Notification, asUser string) (Notification, error) {
	if asUser != "" && asUser != n.UserID {
		return Notification{}, ErrOwnershipMismatch
	}

	if n.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Notification{}, fmt.Errorf("通知IDの採番に失敗: %w", err)
		}
		n.ID = id.String()
	}
	if n.CreatedAt == "" {
		n.CreatedAt = s.now().UTC().Truncate(time.Second).Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return Notification{}, fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return n, nil
}

// Read はIDで通知を取得する。存在しないかスコープ外ならErrNotFoundを返す。
func (s *Store) Read(ctx context.Context, id, asUser string) (Notification, error) {
	return readScoped(ctx, s.db, id, asUser)
}

// Update はパッチをマージして更新後のレコードを返す。
// 読み取りと書き込みは同一トランザクションで行う。
func (s *Store) Update(ctx context.Context, id string, patch Patch, asUser string) (Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Notification{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := readScoped(ctx, tx, id, asUser)
	if err != nil {
		return Notification{}, err
	}
	if patch.UserID != nil && *patch.UserID != current.UserID {
		return Notification{}, ErrOwnershipMismatch
	}

	updated := patch.apply(current)
	if _, err := tx.ExecContext(ctx,
		`UPDATE notifications SET title = ?, message = ?, is_read = ? WHERE id = ?`,
		updated.Title, updated.Message, updated.IsRead, updated.ID,
	); err != nil {
		return Notification{}, fmt.Errorf("通知の更新に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Notification{}, fmt.Errorf("通知更新のコミットに失敗: %w", err)
	}
	return updated, nil
}

// Delete は通知を削除し、削除件数（0または1）を返す。
func (s *Store) Delete(ctx context.Context, id, asUser string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ? AND `+scopeCondition,
		id, asUser, asUser,
	)
	if err != nil {
		return 0, fmt.Errorf("通知の削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}

// DeleteMany はスコープ内にあるidの通知をまとめて削除し、削除したレコードを返す。
// 存在しないidとスコープ外のidは無視する。
func (s *Store) DeleteMany(ctx context.Context, ids []string, asUser string) ([]Notification, error) {
	deleted := make([]Notification, 0, len(ids))
	if len(ids) == 0 {
		return deleted, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cond := `id IN (?` + strings.Repeat(`, ?`, len(ids)-1) + `) AND ` + scopeCondition
	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, asUser, asUser)

	rows, err := tx.QueryContext(ctx, `SELECT `+selectColumns+` FROM notifications WHERE `+cond+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("削除対象の取得に失敗: %w", err)
	}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("削除対象の読み込みに失敗: %w", err)
		}
		deleted = append(deleted, n)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("削除対象の読み込みに失敗: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("削除対象の読み込みに失敗: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE `+cond, args...); err != nil {
		return nil, fmt.Errorf("通知の一括削除に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("通知一括削除のコミットに失敗: %w", err)
	}
	return deleted, nil
}

// Count はスコープ内の通知の総数を返す。
func (s *Store) Count(ctx context.Context, asUser string) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE `+scopeCondition,
		asUser, asUser,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}
	return total, nil
}

// List はスコープ内の通知をソート・ページングして返す。
// ソート指定が不正な場合はクエリを発行せずErrInvalidSortを返す。
func (s *Store) List(ctx context.Context, opts ListOptions, asUser string) ([]Notification, error) {
	orderBy, err := orderClause(opts.Sort)
	if err != nil {
		return nil, err
	}

	// SQLiteではLIMIT -1が無制限を意味する
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := max(opts.Offset, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM notifications WHERE `+scopeCondition+
			` ORDER BY `+orderBy+` LIMIT ? OFFSET ?`,
		asUser, asUser, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知の読み込みに失敗: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知一覧の読み込みに失敗: %w", err)
	}
	return result, nil
}

func readScoped(ctx context.Context, q querier, id, asUser string) (Notification, error) {
	var n Notification
	err := q.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM notifications WHERE id = ? AND `+scopeCondition,
		id, asUser, asUser,
	).Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return n, nil
}
