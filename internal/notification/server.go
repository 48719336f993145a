package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/notifier/internal/config"
	"github.com/nao1215/notifier/internal/notification/realtime"
	"github.com/nao1215/notifier/internal/notification/store"
	"github.com/nao1215/notifier/pkg/auth"
	"github.com/nao1215/notifier/pkg/middleware"

	_ "modernc.org/sqlite"
)

// shutdownTimeout は終了シグナル受信後に処理中のリクエストを待つ時間。
const shutdownTimeout = 10 * time.Second

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。
	cfg *config.Config
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store は通知レコードの永続化層。
	store *store.Store
	// registry は認証済みWebSocketセッションの登録簿。
	registry *realtime.Registry
	// dispatcher は変更を接続中のクライアントへ配信する。
	dispatcher *realtime.Dispatcher
	// verifier はBearerトークンの検証器。
	verifier *auth.Verifier
	// audit はEvent Storeへの監査イベント送信を担う。
	audit *auditRecorder
	// ws はWebSocket接続を受け付けるハンドラ。
	ws *realtime.Handler
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースへの接続とマイグレーションを行う。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.Server.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if isMemoryDSN(cfg.Server.DatabasePath) {
		// インメモリDBは接続ごとに別のDBになるため1接続に固定する
		sqlDB.SetMaxOpenConns(1)
	}

	s, err := newServer(ctx, sqlDB, cfg)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// isMemoryDSN はSQLiteのインメモリデータベースを指すDSNかどうかを返す。
func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func newServer(ctx context.Context, sqlDB *sql.DB, cfg *config.Config) (*Server, error) {
	if err := store.Migrate(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	verifier, err := auth.NewVerifier(authConfig(cfg.Auth))
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の初期化に失敗: %w", err)
	}

	registry := realtime.NewRegistry()
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:     router,
		cfg:        cfg,
		db:         sqlDB,
		store:      store.New(sqlDB),
		registry:   registry,
		dispatcher: realtime.NewDispatcher(registry, cfg.Realtime.QueueSize),
		verifier:   verifier,
		audit:      newAuditRecorder(cfg.EventStore.URL, cfg.EventStore.Timeout),
	}
	s.setupRoutes()

	return s, nil
}

// authConfig はサービス設定をトークン検証の設定に変換する。
func authConfig(c config.AuthConfig) auth.Config {
	return auth.Config{
		Method:   c.SigningMethod,
		Key:      c.SigningKey,
		Audience: c.Audience,
	}
}

// Handler はルーティング済みのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run は配信ワーカーとHTTPサーバーを起動し、ctxが終了するまでブロックする。
// ctxの終了時は処理中のリクエストを待ってから停止する。WebSocketセッションは
// リクエストのコンテキストがctxから派生しているため同時に切断される。
func (s *Server) Run(ctx context.Context) error {
	s.dispatcher.Start(ctx)
	defer s.dispatcher.Stop()
	defer s.close()

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("通知サービスを起動します: %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("通知サービスを停止します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTPサーバーの停止に失敗: %v", err)
		}
		// Shutdownはアップグレード済みのWebSocket接続を待たない
		s.ws.Wait()
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	}
}

// close は監査イベントの送信完了を待ってデータベースを閉じる。
func (s *Server) close() {
	s.audit.Wait()
	if err := s.db.Close(); err != nil {
		log.Printf("データベースのクローズに失敗: %v", err)
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(middleware.CORS(origins))

	notifications := s.router.Group("/notifications")
	notifications.Use(middleware.Identity(s.verifier))
	{
		// 通知作成
		notifications.PUT("", s.handleCreate())
		// 通知一覧取得
		notifications.GET("", s.handleList())
		// 通知取得
		notifications.GET("/:id", s.handleRead())
		// 通知更新
		notifications.POST("/:id", s.handleUpdate())
		// 通知削除
		notifications.DELETE("/:id", s.handleDelete())
		// 通知一括削除
		notifications.DELETE("", s.handleDeleteMany())
	}

	// リアルタイム配信。認証は接続後のフレームで行う
	s.ws = realtime.NewHandler(realtime.Options{
		Registry:     s.registry,
		Verifier:     s.verifier,
		Store:        s.store,
		WriteTimeout: s.cfg.Realtime.WriteTimeout,
		PingPeriod:   s.cfg.Realtime.PingPeriod,
	}, s.cfg.Server.AllowedOrigins)
	s.router.GET("/ws", s.ws.Serve())

	if s.cfg.Auth.DevTokensEnabled {
		log.Println("開発用トークン発行エンドポイントが有効です: POST /auth/dev-token")
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "notification",
			"sessions": s.registry.Len(),
		})
	})
}
