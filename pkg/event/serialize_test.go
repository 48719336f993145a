package event

import (
	"testing"
	"time"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("NotificationWrittenDataでイベントを正常に生成できること", func(t *testing.T) {
		t.Parallel()

		data := NotificationWrittenData{
			UserID:    "user-1",
			Title:     "お知らせ",
			Message:   "アルバムが共有されました",
			CreatedAt: "2024-05-01T00:00:00Z",
			ActorID:   "user-1",
		}

		before := time.Now().UTC()
		ev, err := New("n-1", AggregateTypeNotification, TypeNotificationCreated, data)
		after := time.Now().UTC()

		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.AggregateID != "n-1" {
			t.Errorf("AggregateID = %q, want %q", ev.AggregateID, "n-1")
		}
		if ev.AggregateType != AggregateTypeNotification {
			t.Errorf("AggregateType = %q, want %q", ev.AggregateType, AggregateTypeNotification)
		}
		if ev.EventType != TypeNotificationCreated {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeNotificationCreated)
		}
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", ev.CreatedAt, before, after)
		}

		decoded, err := DecodeData[NotificationWrittenData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if *decoded != data {
			t.Errorf("Data = %+v, want %+v", *decoded, data)
		}
	})

	t.Run("イベントごとに異なるIDが採番されること", func(t *testing.T) {
		t.Parallel()

		ev1, err := New("n-1", AggregateTypeNotification, TypeNotificationDeleted, NotificationDeletedData{UserID: "u1"})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		ev2, err := New("n-1", AggregateTypeNotification, TypeNotificationDeleted, NotificationDeletedData{UserID: "u1"})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if ev1.ID == ev2.ID {
			t.Errorf("IDが重複: %q", ev1.ID)
		}
	})

	t.Run("シリアライズできないデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("n-1", AggregateTypeNotification, TypeNotificationUpdated, make(chan int)); err == nil {
			t.Error("エラーが返されるべき")
		}
	})
}

// TestDecodeData はDecodeData関数を検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("型が合わないデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		ev := &Event{Data: []byte(`{"user_id": 123}`)}
		if _, err := DecodeData[NotificationDeletedData](ev); err == nil {
			t.Error("エラーが返されるべき")
		}
	})

	t.Run("不正なJSONはエラーになること", func(t *testing.T) {
		t.Parallel()

		ev := &Event{Data: []byte(`{`)}
		if _, err := DecodeData[NotificationDeletedData](ev); err == nil {
			t.Error("エラーが返されるべき")
		}
	})
}
