package notification

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/notifier/internal/notification/store"
	"github.com/nao1215/notifier/pkg/auth"
	"github.com/nao1215/notifier/pkg/event"
	"github.com/nao1215/notifier/pkg/middleware"
)

// notFoundMessage は通知が存在しないか参照できない場合のエラーメッセージ。
const notFoundMessage = "通知が見つかりません"

// createRequest は通知作成リクエストのJSON構造。
type createRequest struct {
	// UserID は通知の所有者。
	UserID string `json:"userId" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// IsRead は既読状態。省略時は未読。
	IsRead bool `json:"isRead"`
	// CreatedAt は作成日時。省略時はサーバーが設定する。
	CreatedAt string `json:"created_at"`
}

// updateRequest は通知更新リクエストのJSON構造。指定したフィールドだけをマージする。
type updateRequest struct {
	UserID  *string `json:"userId"`
	Title   *string `json:"title"`
	Message *string `json:"message"`
	IsRead  *bool   `json:"isRead"`
}

// listResponse は通知一覧のJSONレスポンス構造。
type listResponse struct {
	// Total はページングを適用する前の件数。
	Total int64 `json:"total"`
	// Limit は要求された最大件数。0は無制限。
	Limit int `json:"limit"`
	// Offset は要求された読み飛ばし件数。
	Offset int `json:"offset"`
	// Notifications はページ内の通知。
	Notifications []store.Notification `json:"notifications"`
}

// deleteManyResponse は一括削除のJSONレスポンス構造。
type deleteManyResponse struct {
	// Deleted は実際に削除した件数。
	Deleted int `json:"deleted"`
}

// handleCreate は通知を作成し、所有者の接続へ配信するハンドラ。
// 呼び出し元のユーザーIDがある場合は自分宛ての通知のみ作成できる。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.CreatedAt != "" {
			if _, err := time.Parse(time.RFC3339, req.CreatedAt); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "created_atはRFC 3339形式で指定してください"})
				return
			}
		}

		userID := middleware.GetUserID(c)
		n, err := s.store.Create(c.Request.Context(), store.Notification{
			UserID:    req.UserID,
			Title:     req.Title,
			Message:   req.Message,
			IsRead:    req.IsRead,
			CreatedAt: req.CreatedAt,
		}, userID)
		if err != nil {
			if errors.Is(err, store.ErrOwnershipMismatch) {
				c.JSON(http.StatusForbidden, gin.H{"error": "自分宛ての通知のみ作成できます"})
				return
			}
			respondStoreError(c, err, "通知作成")
			return
		}

		log.Printf("通知を作成しました: id=%s, user=%s", n.ID, n.UserID)
		s.dispatcher.PushOnWrite(n)
		s.audit.written(event.TypeNotificationCreated, n, userID)

		c.JSON(http.StatusCreated, n)
	}
}

// handleList は呼び出し元ユーザーの通知一覧を返すハンドラ。
// クエリパラメータ limit, offset, sort=field:direction を受け付ける。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-UserIDヘッダーが必要です"})
			return
		}

		opts, err := parseListOptions(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		notifications, err := s.store.List(ctx, opts, userID)
		if err != nil {
			respondStoreError(c, err, "通知一覧取得")
			return
		}
		total, err := s.store.Count(ctx, userID)
		if err != nil {
			respondStoreError(c, err, "通知件数取得")
			return
		}

		c.JSON(http.StatusOK, listResponse{
			Total:         total,
			Limit:         opts.Limit,
			Offset:        opts.Offset,
			Notifications: notifications,
		})
	}
}

// parseListOptions はクエリパラメータから一覧取得の条件を組み立てる。
func parseListOptions(c *gin.Context) (store.ListOptions, error) {
	opts := store.ListOptions{Sort: store.DefaultSort}

	var err error
	if raw := c.Query("limit"); raw != "" {
		if opts.Limit, err = strconv.Atoi(raw); err != nil || opts.Limit < 0 {
			return store.ListOptions{}, fmt.Errorf("limitが不正です: %q", raw)
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if opts.Offset, err = strconv.Atoi(raw); err != nil || opts.Offset < 0 {
			return store.ListOptions{}, fmt.Errorf("offsetが不正です: %q", raw)
		}
	}
	if raw := c.Query("sort"); raw != "" {
		opts.Sort = strings.Split(raw, ":")
	}
	return opts, nil
}

// handleRead は通知を1件返すハンドラ。
// 他のユーザーの通知は存在しても404を返す。
func (s *Server) handleRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.store.Read(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
		if err != nil {
			respondStoreError(c, err, "通知取得")
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// handleUpdate は通知に指定フィールドをマージし、所有者の接続へ配信するハンドラ。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		userID := middleware.GetUserID(c)
		if userID != "" && req.UserID != nil && *req.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "自分の通知のみ更新できます"})
			return
		}

		n, err := s.store.Update(c.Request.Context(), c.Param("id"), store.Patch{
			UserID:  req.UserID,
			Title:   req.Title,
			Message: req.Message,
			IsRead:  req.IsRead,
		}, userID)
		if err != nil {
			respondStoreError(c, err, "通知更新")
			return
		}

		s.dispatcher.PushOnWrite(n)
		s.audit.written(event.TypeNotificationUpdated, n, userID)

		c.JSON(http.StatusOK, n)
	}
}

// handleDelete は通知を削除し、所有者の接続へ削除を配信するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		userID := middleware.GetUserID(c)

		// 削除の配信先を決めるため先に所有者を取得する
		n, err := s.store.Read(ctx, id, userID)
		if err != nil {
			respondStoreError(c, err, "通知取得")
			return
		}

		deleted, err := s.store.Delete(ctx, id, userID)
		if err != nil {
			respondStoreError(c, err, "通知削除")
			return
		}
		if deleted == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage})
			return
		}

		log.Printf("通知を削除しました: id=%s, user=%s", id, n.UserID)
		s.dispatcher.PushOnDelete(id, n.UserID)
		s.audit.deleted(id, n.UserID, userID)

		c.Status(http.StatusNoContent)
	}
}

// handleDeleteMany はボディのID配列に含まれる通知をまとめて削除するハンドラ。
// 存在しないIDと他のユーザーの通知は無視し、削除した通知ごとに所有者の接続へ配信する。
func (s *Server) handleDeleteMany() gin.HandlerFunc {
	return func(c *gin.Context) {
		var ids []string
		if err := c.ShouldBindJSON(&ids); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		userID := middleware.GetUserID(c)
		deleted, err := s.store.DeleteMany(c.Request.Context(), ids, userID)
		if err != nil {
			respondStoreError(c, err, "通知一括削除")
			return
		}

		for _, n := range deleted {
			s.dispatcher.PushOnDelete(n.ID, n.UserID)
			s.audit.deleted(n.ID, n.UserID, userID)
		}
		log.Printf("通知を一括削除しました: requested=%d, deleted=%d", len(ids), len(deleted))

		c.JSON(http.StatusOK, deleteManyResponse{Deleted: len(deleted)})
	}
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// UserID はトークンのsubクレームに設定するユーザーID。
	UserID string `json:"userId" binding:"required"`
	// TTLSeconds はトークンの有効秒数。省略時は1時間。
	TTLSeconds int `json:"ttlSeconds" binding:"gte=0"`
}

// handleDevToken は開発・動作確認用にトークンを発行するハンドラ。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ttl := time.Hour
		if req.TTLSeconds > 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
		}

		token, err := auth.Issue(authConfig(s.cfg.Auth), req.UserID, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("トークン発行エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":     token,
			"expiresAt": time.Now().Add(ttl).UTC().Format(time.RFC3339),
		})
	}
}

// respondStoreError はストアのエラーをHTTPステータスに対応付けて返す。
func respondStoreError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage})
	case errors.Is(err, store.ErrOwnershipMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
	case errors.Is(err, store.ErrInvalidSort):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + "に失敗しました"})
		log.Printf("%sエラー: %v", op, err)
	}
}
