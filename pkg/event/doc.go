// Package event は通知サービスがEvent Storeへ記録する監査イベントを定義する。
package event
