package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/notifier/pkg/auth"
)

// HeaderUserID は上流（ゲートウェイ）が認証済みユーザーIDを伝播するHTTPヘッダーキー。
const HeaderUserID = "X-UserID"

// contextKeyUserID はGinコンテキストにユーザーIDを保存するキー。
const contextKeyUserID = "user_id"

// TokenVerifier はBearerトークンを検証する。*auth.Verifierが満たす。
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Identity は呼び出し元のユーザーIDを解決するGinミドルウェアを返す。
// X-UserIDヘッダーがあればそれを使い、無ければAuthorizationヘッダーのBearerトークンを検証する。
// どちらも無い場合は識別子なしとして次へ進む。トークンが不正な場合は401を返す。
func Identity(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := strings.TrimSpace(c.GetHeader(HeaderUserID)); userID != "" {
			c.Set(contextKeyUserID, userID)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || verifier == nil {
			c.Next()
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		identity, err := verifier.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyUserID, identity.UserID)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。識別子が無ければ空文字列を返す。
// Identityミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
