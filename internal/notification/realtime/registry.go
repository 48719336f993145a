package realtime

import "sync"

// Registry はユーザーIDごとの接続セッションを保持する。
// 1つのセッションは同時に最大1つのユーザーIDにだけ登録される。
// エントリは切断時と再認証時にのみ削除され、有効期限による自動削除は行わない。
type Registry struct {
	mu sync.RWMutex
	// buckets はユーザーIDからセッション集合への対応。
	buckets map[string]map[*Session]struct{}
	// owners はセッションから登録先ユーザーIDへの逆引き。
	owners map[*Session]string
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{
		buckets: make(map[string]map[*Session]struct{}),
		owners:  make(map[*Session]string),
	}
}

// Register はセッションをuserIDに登録する。別のユーザーIDに登録済みなら先に外す。
func (r *Registry) Register(userID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(s)
	bucket, ok := r.buckets[userID]
	if !ok {
		bucket = make(map[*Session]struct{})
		r.buckets[userID] = bucket
	}
	bucket[s] = struct{}{}
	r.owners[s] = userID
}

// Deregister はセッションを登録から外す。未登録なら何もしない。
func (r *Registry) Deregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(s)
}

// SessionsFor はuserIDに登録されたセッションのコピーを返す。
// 送信はロックを解放してから行うこと。
func (r *Registry) SessionsFor(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.buckets[userID]
	sessions := make([]*Session, 0, len(bucket))
	for s := range bucket {
		sessions = append(sessions, s)
	}
	return sessions
}

// Len は登録中のセッション数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func (r *Registry) removeLocked(s *Session) {
	userID, ok := r.owners[s]
	if !ok {
		return
	}
	delete(r.owners, s)

	bucket := r.buckets[userID]
	delete(bucket, s)
	if len(bucket) == 0 {
		delete(r.buckets, userID)
	}
}
