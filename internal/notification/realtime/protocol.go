package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// クライアントからサーバーへのメッセージ種別。
const (
	// TypeAuthentication はpayloadに "Bearer <token>" を持つ認証要求。
	TypeAuthentication = "authentication"
	// TypeRefresh は通知一覧のスナップショット要求。
	TypeRefresh = "refresh"
)

// サーバーからクライアントへのメッセージ種別。
const (
	TypeAuthenticationConfirmed = "authentication confirmed"
	TypeNotificationList        = "notification list"
	TypePutNotification         = "put notification"
	TypeDeleteNotification      = "delete notification"
	TypePleaseReauthenticate    = "please reauthenticate"
)

// bearerPrefixLen は認証ペイロードの先頭から取り除く文字数（"Bearer "）。
const bearerPrefixLen = len("Bearer ")

var (
	// ErrProtocolViolation はクライアントから不正なフレームを受信したことを表す。
	// セッションはエラー応答を返さずに切断される。
	ErrProtocolViolation = errors.New("プロトコル違反")
	// ErrUnauthenticated は未認証または認証期限切れの状態で認証が必要な要求を受けたことを表す。
	ErrUnauthenticated = errors.New("認証されていないセッションです")
)

// Message はサーバーからクライアントへ送るフレーム。
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// reauthenticateFrame は再認証要求のエンコード済みフレーム。
var reauthenticateFrame = mustEncode(Message{Type: TypePleaseReauthenticate})

func mustEncode(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}

// frame はクライアントから受信したフレーム。
type frame struct {
	Type    string
	Payload json.RawMessage
}

// parseFrame は受信データを解釈する。JSONオブジェクトでない、またはtypeが
// 文字列でない場合はErrProtocolViolationを返す。種別の妥当性は呼び出し元で判定する。
func parseFrame(data []byte) (frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return frame{}, fmt.Errorf("%w: JSONオブジェクトとして解釈できません: %w", ErrProtocolViolation, err)
	}

	typ, ok := decodeString(fields["type"])
	if !ok {
		return frame{}, fmt.Errorf("%w: typeが文字列ではありません", ErrProtocolViolation)
	}
	return frame{Type: typ, Payload: fields["payload"]}, nil
}

// decodeString はJSON文字列リテラルのみを受け付ける。nullや数値はfalseを返す。
func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// stripBearer は認証ペイロードの先頭7文字を取り除く。
// 接頭辞の内容は確認せず、短すぎる場合は空文字列になり検証で失敗する。
func stripBearer(payload string) string {
	if len(payload) < bearerPrefixLen {
		return ""
	}
	return payload[bearerPrefixLen:]
}
