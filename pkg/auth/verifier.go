package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はトークンが不正・期限切れ・署名不一致・対象外のaudience・
// 未許可のアルゴリズムのいずれかで検証に失敗したことを表す。
var ErrInvalidToken = errors.New("トークンが無効です")

// Claims はこのサービスが解釈するJWTクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// UserID はsubクレームを設定しない発行元向けのユーザーID。
	UserID string `json:"user_id,omitempty"`
}

// Identity は検証済みトークンから取り出した認証情報。
type Identity struct {
	// UserID は認証済みユーザーの一意識別子。
	UserID string
	// ExpiresAt はトークンの有効期限（expクレーム）。
	ExpiresAt time.Time
}

// Config はトークンの署名・検証に関する設定。
type Config struct {
	// Method は受け入れる署名アルゴリズム（HS256/HS384/HS512/RS256/RS384/RS512）。
	Method string
	// Key はHMACでは共有シークレット、RSAではPEM形式の公開鍵。
	// RSA公開鍵はBEGIN/END行を省いた本文のみでも受け付ける。
	Key string
	// Audience が空でない場合、audクレームにこの値が含まれている必要がある。
	Audience string
}

// Verifier はJWTを検証する。状態を持たないため並行に使用できる。
type Verifier struct {
	key    any
	parser *jwt.Parser
}

// NewVerifier は設定から検証器を生成する。
func NewVerifier(cfg Config) (*Verifier, error) {
	method := jwt.GetSigningMethod(cfg.Method)
	if method == nil {
		return nil, fmt.Errorf("未対応の署名アルゴリズム: %q", cfg.Method)
	}

	key, err := verificationKey(method, cfg.Key)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		key:    key,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify はトークン文字列を検証し、ユーザーIDと有効期限を返す。
// ユーザーIDはsubクレーム、無ければuser_idクレームから取得する。
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: ユーザーIDのクレームがありません", ErrInvalidToken)
	}

	return Identity{
		UserID:    userID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// verificationKey はアルゴリズムに応じた検証鍵を組み立てる。
func verificationKey(method jwt.SigningMethod, raw string) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if raw == "" {
			return nil, errors.New("HMACシークレットが空です")
		}
		return []byte(raw), nil
	case *jwt.SigningMethodRSA:
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemPublicKey(raw)))
		if err != nil {
			return nil, fmt.Errorf("RSA公開鍵の読み込みに失敗: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("未対応の署名アルゴリズム: %q", method.Alg())
	}
}

// pemPublicKey は本文のみで渡された公開鍵をPEM形式に整える。
func pemPublicKey(raw string) string {
	if strings.Contains(raw, "-----BEGIN") {
		return raw
	}
	return "-----BEGIN PUBLIC KEY-----\n" + strings.TrimSpace(raw) + "\n-----END PUBLIC KEY-----"
}
