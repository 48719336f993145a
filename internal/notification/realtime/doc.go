// Package realtime は通知のリアルタイム配信を担う。
//
// クライアントはWebSocketで接続した後、同じ接続上でauthenticationフレームを送って認証する。
// 接続直後は未認証であり、認証済みのセッションだけがRegistryにユーザーIDで登録される。
// ストアへの書き込み後、Dispatcherは所有者のセッションへ変更を配信する。
// 各セッションは上限付きの送信待ちと専用の書き込みループを持ち、読み取りを止めた
// クライアントは自分のセッションだけを遅らせる。送信待ちが溢れたセッションは閉じられる。
//
// 認証の有効期限はタイマーで監視せず、配信時とrefresh要求時にだけ確認する。
// そのため期限切れ後も次の配信までは登録されたまま残るが、
// 配信時には本文の代わりに再認証要求が送られるので通知内容は漏れない。
//
// 配信は最大1回のベストエフォートであり、切断中や未認証のクライアントは
// refreshで全件を取り直す必要がある。
package realtime
