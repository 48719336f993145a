package store

import (
	"fmt"
	"strings"
)

// sortColumns はソート可能なJSONフィールド名とカラム名の対応。
var sortColumns = map[string]string{
	"_id":        "id",
	"userId":     "user_id",
	"title":      "title",
	"message":    "message",
	"isRead":     "is_read",
	"created_at": "created_at",
}

// orderClause はソート指定をORDER BY句に変換する。
// 同値のレコードはidで並べ、ページングの結果を安定させる。
func orderClause(sort []string) (string, error) {
	if len(sort) != 2 {
		return "", fmt.Errorf("%w: 要素数が%dです", ErrInvalidSort, len(sort))
	}

	column, ok := sortColumns[sort[0]]
	if !ok {
		return "", fmt.Errorf("%w: 未知のフィールド %q", ErrInvalidSort, sort[0])
	}

	var direction string
	switch strings.ToLower(sort[1]) {
	case "asc":
		direction = "ASC"
	case "desc":
		direction = "DESC"
	default:
		return "", fmt.Errorf("%w: 未知の方向 %q", ErrInvalidSort, sort[1])
	}

	if column == "id" {
		return "id " + direction, nil
	}
	return column + " " + direction + ", id " + direction, nil
}
