package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// issuer は発行するトークンのissクレーム。
const issuer = "notifier"

// Issue はユーザーIDをsubクレームに持つトークンをHMACで署名して発行する。
// 開発用トークン発行エンドポイントとテストで使用する。RSAでの発行には対応しない。
func Issue(cfg Config, userID string, ttl time.Duration) (string, error) {
	method, ok := jwt.GetSigningMethod(cfg.Method).(*jwt.SigningMethodHMAC)
	if !ok {
		return "", fmt.Errorf("トークン発行はHMAC署名のみ対応しています: %q", cfg.Method)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(cfg.Key))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}
