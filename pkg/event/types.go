package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

// AggregateTypeNotification は通知エンティティを表す。
const AggregateTypeNotification AggregateType = "Notification"

// Type はイベントの種類を表す。
type Type string

const (
	// TypeNotificationCreated は通知が作成されたことを表す。
	TypeNotificationCreated Type = "NotificationCreated"
	// TypeNotificationUpdated は通知が更新されたことを表す。
	TypeNotificationUpdated Type = "NotificationUpdated"
	// TypeNotificationDeleted は通知が削除されたことを表す。
	TypeNotificationDeleted Type = "NotificationDeleted"
)

// Event はEvent Storeに記録する不変の監査イベント。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。0ならEvent Storeが採番する。
	Version int64 `json:"version,omitempty"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// NotificationWrittenData はNotificationCreated/NotificationUpdatedイベントのデータ。
// 書き込み後のレコード全体を保持する。
type NotificationWrittenData struct {
	// UserID は通知の所有者。
	UserID string `json:"user_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// IsRead は既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// ActorID は操作したユーザーのID。識別子なしの管理操作では空。
	ActorID string `json:"actor_id,omitempty"`
}

// NotificationDeletedData はNotificationDeletedイベントのデータ。
type NotificationDeletedData struct {
	// UserID は削除された通知の所有者。
	UserID string `json:"user_id"`
	// ActorID は操作したユーザーのID。識別子なしの管理操作では空。
	ActorID string `json:"actor_id,omitempty"`
}
