// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 通知サービスはEvent Storeへの監査イベント送信に使用する。
package httpclient
