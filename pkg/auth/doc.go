// Package auth はベアラートークン（JWT）の検証と発行を提供する。
//
// 署名鍵と受け入れるアルゴリズムはプロセス起動時に固定される。
// 検証はネットワーク通信やリトライを伴わず、失敗は即座にErrInvalidTokenとして返る。
// WebSocketの認証フレームとHTTPのAuthorizationヘッダーの両方で同じVerifierを使用する。
package auth
