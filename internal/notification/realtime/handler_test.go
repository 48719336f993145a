package realtime

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestOriginChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "許可リストが空なら全て許可", allowed: nil, origin: "http://evil.example", want: true},
		{name: "ワイルドカードは全て許可", allowed: []string{"http://a.example", "*"}, origin: "http://evil.example", want: true},
		{name: "許可リストに含まれるOrigin", allowed: []string{"http://a.example"}, origin: "http://a.example", want: true},
		{name: "許可リストに含まれないOrigin", allowed: []string{"http://a.example"}, origin: "http://b.example", want: false},
		{name: "Originヘッダーなし", allowed: []string{"http://a.example"}, origin: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(req); got != tt.want {
				t.Errorf("originChecker() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandler_Wait(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := NewHandler(env.options(), nil)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", h.Serve())
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("WebSocket接続に失敗: %v", err)
	}

	waited := make(chan struct{})
	go func() {
		defer close(waited)
		h.Wait()
	}()

	select {
	case <-waited:
		t.Fatal("接続中のセッションがあるのにWaitが戻った")
	case <-time.After(100 * time.Millisecond):
	}

	_ = conn.Close()
	select {
	case <-waited:
	case <-time.After(waitTimeout):
		t.Fatal("切断後もWaitが戻らない")
	}
}
