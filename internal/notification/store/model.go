package store

import "errors"

var (
	// ErrNotFound はレコードが存在しないか、所有者スコープ外であることを表す。
	// 両者は呼び出し元から区別できない。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrOwnershipMismatch は書き込みの所有者が呼び出し元またはレコードの所有者と異なることを表す。
	ErrOwnershipMismatch = errors.New("通知の所有者が一致しません")
	// ErrInvalidSort はソート指定が (フィールド, 方向) の組になっていないことを表す。
	ErrInvalidSort = errors.New("ソート指定が不正です")
)

// Notification はユーザーが所有する通知レコード。
// JSONのフィールド名はREST APIとWebSocketで共通。
type Notification struct {
	// ID は通知の一意識別子。未指定なら作成時にUUIDv7が採番される。
	ID string `json:"_id"`
	// UserID は通知の所有者。作成後は変更できない。
	UserID string `json:"userId"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// IsRead は既読状態。
	IsRead bool `json:"isRead"`
	// CreatedAt は作成日時（RFC 3339、UTC）。作成時に未指定なら設定され、以後は上書きされない。
	CreatedAt string `json:"created_at"`
}

// Patch は更新時にマージするフィールド。nilのフィールドは変更しない。
// UserIDは既存の所有者と一致する場合のみ許される。
type Patch struct {
	UserID  *string
	Title   *string
	Message *string
	IsRead  *bool
}

// apply はパッチを適用した新しいレコードを返す。
func (p Patch) apply(n Notification) Notification {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Message != nil {
		n.Message = *p.Message
	}
	if p.IsRead != nil {
		n.IsRead = *p.IsRead
	}
	return n
}

// ListOptions は一覧取得のページングとソート指定。
type ListOptions struct {
	// Limit は最大件数。0以下なら無制限。
	Limit int
	// Offset はソート順で先頭から読み飛ばす件数。
	Offset int
	// Sort は [フィールド名, "asc"|"desc"] の2要素。フィールド名はJSON名で指定する。
	Sort []string
}

// DefaultSort は新しい順（UUIDv7の降順）。
var DefaultSort = []string{"_id", "desc"}
