// Package store は通知レコードの永続化を担う。
//
// すべての操作は所有者スコープ（asUser）を受け取る。asUserが空文字列の場合は
// 管理者としてスコープなしで操作し、空でない場合はその所有者のレコードだけを対象にする。
// 他人のレコードは存在しないものとして扱い、ErrNotFoundを返す。
// 並行制御はSQLiteに委ねており、このパッケージ自身はロックを持たない。
package store
