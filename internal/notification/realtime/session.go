package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nao1215/notifier/internal/notification/store"
	"github.com/nao1215/notifier/pkg/auth"
)

// State は接続セッションの状態。
type State int

const (
	// StateUnauthenticated は接続直後、または認証情報を失った状態。
	StateUnauthenticated State = iota
	// StateAuthenticated はユーザーIDを持ち、有効期限内の状態。
	StateAuthenticated
	// StateExpiredAuthenticated はユーザーIDを持つが有効期限を過ぎた状態。
	StateExpiredAuthenticated
	// StateClosed は切断済みの終端状態。
	StateClosed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateExpiredAuthenticated:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn はセッションが排他的に所有する双方向接続。*websocket.Connが満たす。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// TokenVerifier は認証フレームのトークンを検証する。
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Lister はスナップショット用に所有者スコープの通知一覧を取得する。
type Lister interface {
	List(ctx context.Context, opts store.ListOptions, asUser string) ([]store.Notification, error)
}

// Options はセッションが共有する依存関係と設定。
type Options struct {
	// Registry は認証済みセッションの登録先。
	Registry *Registry
	// Verifier は認証フレームのトークン検証器。
	Verifier TokenVerifier
	// Store はrefresh要求に応じるための通知ストア。
	Store Lister
	// WriteTimeout は1回の送信に許す時間。0なら無制限。
	WriteTimeout time.Duration
	// PingPeriod はpingの送信間隔。0なら送信しない。
	PingPeriod time.Duration
	// Now は有効期限の判定に使う時計。nilならtime.Now。
	Now func() time.Time
	// OutboxSize は未送信の配信フレームを保持する数。0以下ならDefaultOutboxSize。
	OutboxSize int
}

// DefaultOutboxSize はセッションごとの配信待ちフレーム数の既定値。
const DefaultOutboxSize = 32

// ErrOutboxFull は配信待ちフレームが上限に達したことを表す。
// 受信側が読み取りを止めている接続で発生する。
var ErrOutboxFull = errors.New("配信待ちフレームが上限に達しました")

// outbound はセッションの送信待ちフレーム。userIDは配信対象の所有者。
type outbound struct {
	userID string
	frame  []byte
}

// Session は1本の接続に対応する状態機械。
type Session struct {
	id   string
	conn Conn
	opts Options

	// mu はuserID・expiresAt・closedを保護する。Registryのロックより先に取得する。
	mu        sync.Mutex
	userID    string
	expiresAt time.Time
	closed    bool

	// outbox はDispatcherからの配信を書き込みループへ渡す。
	outbox chan outbound
	// done はClose時に閉じられ、書き込みループを終了させる。
	done chan struct{}

	// writeMu は接続への書き込みを直列化する。muより先に取得する。
	writeMu sync.Mutex
}

// NewSession は未認証状態のセッションを生成する。idはログ出力用。
func NewSession(id string, conn Conn, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOutboxSize
	}
	return &Session{
		id:     id,
		conn:   conn,
		opts:   opts,
		outbox: make(chan outbound, opts.OutboxSize),
		done:   make(chan struct{}),
	}
}

// ID はセッションの識別子を返す。
func (s *Session) ID() string {
	return s.id
}

// UserID は認証済みユーザーIDを返す。未認証なら空文字列。
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// State は現在の状態を返す。有効期限はこの呼び出し時点の時刻で判定する。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	switch {
	case s.closed:
		return StateClosed
	case s.userID == "":
		return StateUnauthenticated
	case s.opts.Now().After(s.expiresAt):
		return StateExpiredAuthenticated
	default:
		return StateAuthenticated
	}
}

// Serve は接続が閉じるかプロトコル違反を検出するまでフレームを処理する。
// 戻る時にはRegistryから外れ、接続は閉じられている。
func (s *Session) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.Close()

	go s.watch(ctx)
	go s.writeLoop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && s.State() != StateClosed {
				log.Printf("[WS] 受信エラー (session=%s): %v", s.id, err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if err := s.handleFrame(ctx, data); err != nil {
			log.Printf("[WS] セッションを切断します (session=%s): %v", s.id, err)
			return
		}
	}
}

// Close はRegistryから外して接続を閉じる。複数回呼んでもよい。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.deregisterLocked()
	s.mu.Unlock()

	_ = s.conn.Close()
}

// watch はpingを定期送信し、ctxの終了時に接続を閉じる。
func (s *Session) watch(ctx context.Context) {
	var tick <-chan time.Time
	if s.opts.PingPeriod > 0 {
		ticker := time.NewTicker(s.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-tick:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ping送信に失敗 (session=%s): %v", s.id, err)
				s.Close()
				return
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	f, err := parseFrame(data)
	if err != nil {
		return err
	}

	switch f.Type {
	case TypeAuthentication:
		return s.authenticate(f.Payload)
	case TypeRefresh:
		return s.refresh(ctx)
	default:
		return fmt.Errorf("%w: 未知のメッセージ種別 %q", ErrProtocolViolation, f.Type)
	}
}

// authenticate は現在の登録を外してからトークンを検証し、成功すれば新しいユーザーIDで登録する。
// 検証に失敗した場合は未認証に戻り、エラーを返してセッションを閉じさせる。
func (s *Session) authenticate(payload json.RawMessage) error {
	raw, ok := decodeString(payload)
	if !ok {
		return fmt.Errorf("%w: 認証ペイロードが文字列ではありません", ErrProtocolViolation)
	}

	s.mu.Lock()
	s.userID = ""
	s.expiresAt = time.Time{}
	s.deregisterLocked()
	s.mu.Unlock()

	identity, err := s.opts.Verifier.Verify(stripBearer(raw))
	if err != nil {
		return fmt.Errorf("認証に失敗: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("認証中にセッションが閉じられました")
	}
	s.userID = identity.UserID
	s.expiresAt = identity.ExpiresAt
	if s.opts.Registry != nil {
		s.opts.Registry.Register(identity.UserID, s)
	}
	s.mu.Unlock()

	log.Printf("[WS] 認証しました (session=%s, user=%s, expires=%s)", s.id, identity.UserID, identity.ExpiresAt.UTC().Format(time.RFC3339))
	return s.send(Message{Type: TypeAuthenticationConfirmed})
}

// refresh は所有者スコープの全通知を1つのスナップショットとして送る。
func (s *Session) refresh(ctx context.Context) error {
	s.mu.Lock()
	state := s.stateLocked()
	userID := s.userID
	s.mu.Unlock()

	if state != StateAuthenticated {
		return fmt.Errorf("%w: %s状態でrefreshを受信", ErrUnauthenticated, state)
	}

	list, err := s.opts.Store.List(ctx, store.ListOptions{Sort: store.DefaultSort}, userID)
	if err != nil {
		return fmt.Errorf("スナップショットの取得に失敗: %w", err)
	}
	return s.send(Message{Type: TypeNotificationList, Payload: list})
}

// deregisterLocked はRegistryから外す。s.muを保持して呼ぶこと。
func (s *Session) deregisterLocked() {
	if s.opts.Registry != nil {
		s.opts.Registry.Deregister(s)
	}
}

// enqueue はuserID宛てのframeを送信待ちに積む。ブロックしない。
// セッションが閉じている、または別のユーザーとして認証し直している場合は何もしない。
func (s *Session) enqueue(userID string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.userID != userID {
		return nil
	}
	select {
	case s.outbox <- outbound{userID: userID, frame: frame}:
		return nil
	default:
		return ErrOutboxFull
	}
}

// writeLoop は送信待ちのフレームを順に書き込む。送信に失敗したらセッションを閉じる。
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case ob := <-s.outbox:
			if err := s.push(ob); err != nil {
				log.Printf("[WS] 配信に失敗 (session=%s, user=%s): %v", s.id, ob.userID, err)
				s.Close()
				return
			}
		}
	}
}

// push は積まれたフレームを書き込む。所有者と状態は書き込みロックを保持したまま
// 判定するため、認証し直したセッションに以前のユーザー宛てのフレームは届かない。
// 認証済みならframeを、期限切れなら再認証要求を送る。
func (s *Session) push(ob outbound) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	state := s.stateLocked()
	owner := s.userID
	s.mu.Unlock()

	if state == StateClosed || owner != ob.userID {
		return nil
	}
	if state != StateAuthenticated {
		return s.writeLocked(websocket.TextMessage, reauthenticateFrame)
	}
	return s.writeLocked(websocket.TextMessage, ob.frame)
}

func (s *Session) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("メッセージのシリアライズに失敗: %w", err)
	}
	return s.write(websocket.TextMessage, data)
}

func (s *Session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(messageType, data)
}

// writeLocked は書き込み期限を設定して送信する。s.writeMuを保持して呼ぶこと。
func (s *Session) writeLocked(messageType int, data []byte) error {
	if s.opts.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
			return fmt.Errorf("書き込み期限の設定に失敗: %w", err)
		}
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("送信に失敗: %w", err)
	}
	return nil
}
