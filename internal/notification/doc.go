// Package notification は通知サービスのHTTP境界と組み立てを提供する。
//
// 通知のCRUD APIを公開し、書き込みと削除のたびに所有者のWebSocket接続へ
// 変更を配信する。EVENTSTORE_URLが設定されていれば変更を監査イベントとして
// Event Storeへ送信する。
package notification
