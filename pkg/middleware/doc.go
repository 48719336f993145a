// Package middleware は通知サービスのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 呼び出し元ユーザーの解決（X-UserIDヘッダーまたはBearerトークン）、
// パニックリカバリ、CORS設定を含む。
package middleware
