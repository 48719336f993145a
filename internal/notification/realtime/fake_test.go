package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nao1215/notifier/internal/notification/store"
	"github.com/nao1215/notifier/pkg/auth"
)

// waitTimeout はテストで非同期の結果を待つ上限時間。
const waitTimeout = 2 * time.Second

var errWriteFailed = errors.New("書き込み失敗")

// fakeConn はテスト用のConn実装。受信フレームをチャネルから供給し、送信フレームを記録する。
type fakeConn struct {
	inbound chan []byte
	writes  chan []byte
	closed  chan struct{}
	once    sync.Once
	// failWrites がtrueなら全ての書き込みが失敗する。
	failWrites bool

	// mu はgateを保護する。
	mu sync.Mutex
	// gate がnilでなければ、書き込みはgateが閉じられるか接続が閉じられるまで止まる。
	gate chan struct{}
	// blocked は書き込みがgateで止まるたびに通知される。
	blocked chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
		blocked: make(chan struct{}, 16),
	}
}

// blockWrites は以降の書き込みを止め、再開する関数を返す。
func (c *fakeConn) blockWrites() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// waitBlocked は書き込みがgateで止まるまで待つ。
func (c *fakeConn) waitBlocked(t *testing.T) {
	t.Helper()
	select {
	case <-c.blocked:
	case <-time.After(waitTimeout):
		t.Fatal("書き込みが止まるのを待機中にタイムアウト")
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("接続は閉じられています")
	default:
	}
	if c.failWrites {
		return errWriteFailed
	}

	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case c.blocked <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-c.closed:
			return errors.New("接続は閉じられています")
		}
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	c.writes <- data
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// send はクライアントからのフレームを送る。
func (c *fakeConn) send(frame string) {
	c.inbound <- []byte(frame)
}

// next は次の送信フレームを待って返す。
func (c *fakeConn) next(t *testing.T) Message {
	t.Helper()
	select {
	case data := <-c.writes:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("送信フレームが不正なJSON: %s: %v", data, err)
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("送信フレームを待機中にタイムアウト")
		return Message{}
	}
}

// nextRaw は次の送信フレームを生のバイト列で返す。
func (c *fakeConn) nextRaw(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.writes:
		return data
	case <-time.After(waitTimeout):
		t.Fatal("送信フレームを待機中にタイムアウト")
		return nil
	}
}

// waitClosed は接続が閉じられるまで待つ。
func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(waitTimeout):
		t.Fatal("接続が閉じられるのを待機中にタイムアウト")
	}
}

// assertNoWrites は未読の送信フレームがないことを確認する。
func (c *fakeConn) assertNoWrites(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.writes:
		t.Errorf("送信されるべきでないフレーム: %s", data)
	default:
	}
}

// fakeClock は手動で進める時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubVerifier はトークン文字列から固定のIdentityを返す。
type stubVerifier map[string]auth.Identity

func (v stubVerifier) Verify(token string) (auth.Identity, error) {
	id, ok := v[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

// stubLister は固定の一覧を返し、呼び出し内容を記録する。
type stubLister struct {
	mu    sync.Mutex
	items []store.Notification
	err   error
	calls []listCall
}

type listCall struct {
	opts   store.ListOptions
	asUser string
}

func (l *stubLister) List(_ context.Context, opts store.ListOptions, asUser string) ([]store.Notification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, listCall{opts: opts, asUser: asUser})
	if l.err != nil {
		return nil, l.err
	}
	return l.items, nil
}

// testEnv はセッションのテストに必要な依存関係一式。
type testEnv struct {
	registry *Registry
	clock    *fakeClock
	verifier stubVerifier
	lister   *stubLister
	// outboxSize はセッションの送信待ち上限。0なら既定値。
	outboxSize int
}

func newTestEnv() *testEnv {
	clock := newFakeClock()
	return &testEnv{
		registry: NewRegistry(),
		clock:    clock,
		verifier: stubVerifier{
			"token-u1":  {UserID: "u1", ExpiresAt: clock.Now().Add(time.Hour)},
			"token-u1b": {UserID: "u1", ExpiresAt: clock.Now().Add(time.Hour)},
			"token-u2":  {UserID: "u2", ExpiresAt: clock.Now().Add(time.Hour)},
			"short-u1":  {UserID: "u1", ExpiresAt: clock.Now().Add(time.Minute)},
		},
		lister: &stubLister{},
	}
}

func (e *testEnv) options() Options {
	return Options{
		Registry: e.registry,
		Verifier: e.verifier,
		Store:    e.lister,
		Now:        e.clock.Now,
		OutboxSize: e.outboxSize,
	}
}

// serve は新しいセッションをバックグラウンドで起動する。
func (e *testEnv) serve(t *testing.T, id string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(id, conn, e.options())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, conn
}

// authenticate は認証フレームを送り、確認応答を待つ。
func authenticate(t *testing.T, conn *fakeConn, token string) {
	t.Helper()
	conn.send(`{"type":"authentication","payload":"Bearer ` + token + `"}`)
	if got := conn.next(t); got.Type != TypeAuthenticationConfirmed {
		t.Fatalf("応答種別 = %q, want %q", got.Type, TypeAuthenticationConfirmed)
	}
}

// registeredSession は受信ループを起動せずに認証済みとして登録したセッションを返す。
// 書き込みループは起動し、テスト終了時にセッションを閉じる。
func registeredSession(t *testing.T, e *testEnv, id, userID string, expiresAt time.Time) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(id, conn, e.options())
	s.mu.Lock()
	s.userID = userID
	s.expiresAt = expiresAt
	e.registry.Register(userID, s)
	s.mu.Unlock()

	go s.writeLoop()
	t.Cleanup(s.Close)
	return s, conn
}

func authIdentity(userID string, expiresAt time.Time) auth.Identity {
	return auth.Identity{UserID: userID, ExpiresAt: expiresAt}
}
