package notification

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nao1215/notifier/internal/notification/store"
	"github.com/nao1215/notifier/pkg/event"
	"github.com/nao1215/notifier/pkg/httpclient"
)

// eventsPath はEvent Storeのイベント追記API。
const eventsPath = "/api/v1/events"

// auditRecorder は通知の変更を監査イベントとしてEvent Storeへ非同期に送信する。
// 送信に失敗してもログに記録するだけで、呼び出し元の操作は成功として扱う。
type auditRecorder struct {
	// client はEvent Storeとの通信用HTTPクライアント。nilなら送信しない。
	client *httpclient.Client
	// timeout は1回の送信に許す時間。
	timeout time.Duration
	// wg は送信中のゴルーチンを追跡する。
	wg sync.WaitGroup
}

// newAuditRecorder は新しいauditRecorderを生成する。baseURLが空なら何も送信しない。
func newAuditRecorder(baseURL string, timeout time.Duration) *auditRecorder {
	r := &auditRecorder{timeout: timeout}
	if baseURL != "" {
		r.client = httpclient.New(baseURL, timeout)
	}
	return r
}

// written は作成・更新イベントを送信する。
func (r *auditRecorder) written(eventType event.Type, n store.Notification, actorID string) {
	r.record(n.ID, eventType, actorID, event.NotificationWrittenData{
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
		ActorID:   actorID,
	})
}

// deleted は削除イベントを送信する。
func (r *auditRecorder) deleted(id, ownerID, actorID string) {
	r.record(id, event.TypeNotificationDeleted, actorID, event.NotificationDeletedData{
		UserID:  ownerID,
		ActorID: actorID,
	})
}

func (r *auditRecorder) record(aggregateID string, eventType event.Type, actorID string, data any) {
	if r.client == nil {
		return
	}

	ev, err := event.New(aggregateID, event.AggregateTypeNotification, eventType, data)
	if err != nil {
		log.Printf("[Audit] %sイベントの生成に失敗 (id=%s): %v", eventType, aggregateID, err)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		// リクエストの終了に引きずられないよう独立したコンテキストで送信する
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if actorID != "" {
			ctx = httpclient.WithUserID(ctx, actorID)
		}

		if err := r.client.PostJSON(ctx, eventsPath, ev, nil); err != nil {
			log.Printf("[Audit] %sイベントの送信に失敗 (id=%s): %v", eventType, aggregateID, err)
		}
	}()
}

// Wait は送信中のイベントが全て完了するまで待つ。
func (r *auditRecorder) Wait() {
	r.wg.Wait()
}
