package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/nao1215/notifier/internal/notification/store"
)

// DefaultQueueSize は配信キューの既定の長さ。
const DefaultQueueSize = 256

// delivery は1人のユーザーへ配信するエンコード済みフレーム。
type delivery struct {
	userID string
	frame  []byte
}

// Dispatcher は通知の書き込み・削除を所有者の接続セッションへ配信するバックグラウンドプロセス。
// PushOnWrite/PushOnDeleteはキューに積むだけで、単一のワーカーが各セッションの
// 送信待ちへ振り分ける。ワーカーが1つのため、セッションごとの配信順は積まれた順になる。
// 実際の書き込みはセッションごとの書き込みループが行うため、
// 読み取りを止めたクライアントが他のセッションへの配信を遅らせることはない。
type Dispatcher struct {
	// registry は配信先セッションの参照先。
	registry *Registry
	// queue は未配信のフレーム。満杯の場合は破棄される。
	queue chan delivery
	// cancel はワーカーを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done はワーカーの終了を通知する。
	done chan struct{}
	mu   sync.Mutex
}

// NewDispatcher は新しいDispatcherを生成する。queueSizeが0以下ならDefaultQueueSizeを使う。
func NewDispatcher(registry *Registry, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		registry: registry,
		queue:    make(chan delivery, queueSize),
	}
}

// Start はバックグラウンドで配信ワーカーを開始する。
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		log.Println("[Dispatcher] 配信ワーカーを開始します")
		for {
			select {
			case <-ctx.Done():
				log.Println("[Dispatcher] 配信ワーカーを停止しました")
				return
			case dl := <-d.queue:
				d.deliver(dl)
			}
		}
	}()
}

// Stop は配信ワーカーを停止し、終了を待つ。キューに残ったフレームは配信されない。
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// PushOnWrite は作成・更新された通知を所有者のセッションへ配信する。
func (d *Dispatcher) PushOnWrite(n store.Notification) {
	d.enqueue(n.UserID, Message{Type: TypePutNotification, Payload: n})
}

// PushOnDelete は削除された通知のIDを所有者のセッションへ配信する。
func (d *Dispatcher) PushOnDelete(id, userID string) {
	d.enqueue(userID, Message{Type: TypeDeleteNotification, Payload: id})
}

// enqueue はフレームを一度だけエンコードしてキューに積む。呼び出し元をブロックしない。
func (d *Dispatcher) enqueue(userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Dispatcher] フレームのシリアライズに失敗 (type=%s, user=%s): %v", msg.Type, userID, err)
		return
	}

	select {
	case d.queue <- delivery{userID: userID, frame: data}:
	default:
		log.Printf("[Dispatcher] 配信キューが満杯のため破棄しました (type=%s, user=%s)", msg.Type, userID)
	}
}

// deliver は所有者の全セッションの送信待ちへ積む。送信待ちが溢れたセッションは
// ログに記録して閉じ、残りのセッションへの配信は続ける。
func (d *Dispatcher) deliver(dl delivery) {
	for _, s := range d.registry.SessionsFor(dl.userID) {
		if err := s.enqueue(dl.userID, dl.frame); err != nil {
			log.Printf("[Dispatcher] 配信に失敗 (session=%s, user=%s): %v", s.ID(), dl.userID, err)
			s.Close()
		}
	}
}
