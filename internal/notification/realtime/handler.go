package realtime

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler はWebSocket接続を受け付け、接続ごとにSessionを起動する。
type Handler struct {
	// upgrader はHTTP接続をWebSocketへ切り替える。
	upgrader websocket.Upgrader
	// opts は生成するSessionに渡す依存関係。
	opts Options
	// sessions は処理中のセッション。http.Server.Shutdownはアップグレード済みの接続を待たない。
	sessions sync.WaitGroup
}

// NewHandler は新しいHandlerを生成する。
// allowedOrigins が空、または "*" を含む場合は全てのOriginを許可する。
func NewHandler(opts Options, allowedOrigins []string) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		opts: opts,
	}
}

// Serve はGETリクエストをWebSocketへアップグレードし、切断までセッションを処理する。
// 認証は接続後の最初のauthenticationフレームで行う。
func (h *Handler) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.sessions.Add(1)
		defer h.sessions.Done()

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeがエラー応答を書き込み済み
			log.Printf("[WS] アップグレードに失敗: %v", err)
			return
		}

		id := uuid.NewString()
		log.Printf("[WS] 接続しました (session=%s, remote=%s)", id, c.Request.RemoteAddr)
		start := time.Now()

		NewSession(id, conn, h.opts).Serve(c.Request.Context())

		log.Printf("[WS] 切断しました (session=%s, duration=%s)", id, time.Since(start).Round(time.Millisecond))
	}
}

// Wait は処理中の全セッションが終了するまで待つ。
func (h *Handler) Wait() {
	h.sessions.Wait()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// ブラウザ以外のクライアント
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
