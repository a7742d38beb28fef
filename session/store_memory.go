package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 32

type memoryEntry struct {
	sess     Session
	expireAt time.Time
}

type memoryShard struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
}

type indexShard struct {
	mu       sync.Mutex
	accounts map[string]map[string]struct{}
}

// MemoryStore is an in-process session store for tests and single-node
// deployments. Keys are spread across shards so concurrent operations on
// different tokens never contend on one lock.
type MemoryStore struct {
	shards  [memoryShards]*memoryShard
	index   [memoryShards]*indexShard
	janitor *time.Ticker
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a [MemoryStore]. sweepInterval controls the
// background purge of expired entries; zero disables the janitor, in which
// case expired entries are only dropped lazily on access.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{done: make(chan struct{})}
	for i := range s.shards {
		s.shards[i] = &memoryShard{sessions: make(map[string]memoryEntry)}
		s.index[i] = &indexShard{accounts: make(map[string]map[string]struct{})}
	}
	if sweepInterval > 0 {
		s.janitor = time.NewTicker(sweepInterval)
		go s.sweepLoop()
	}
	return s
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % memoryShards)
}

func (s *MemoryStore) shard(token string) *memoryShard {
	return s.shards[shardIndex(token)]
}

func (s *MemoryStore) accountShard(accountID string) *indexShard {
	return s.index[shardIndex(accountID)]
}

// Save stores the session and resets its ttl.
func (s *MemoryStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	sh := s.shard(sess.Token)
	sh.mu.Lock()
	sh.sessions[sess.Token] = memoryEntry{sess: *sess, expireAt: time.Now().Add(ttl)}
	sh.mu.Unlock()

	ix := s.accountShard(sess.AccountID)
	ix.mu.Lock()
	set, ok := ix.accounts[sess.AccountID]
	if !ok {
		set = make(map[string]struct{})
		ix.accounts[sess.AccountID] = set
	}
	set[sess.Token] = struct{}{}
	ix.mu.Unlock()
	return nil
}

// Get loads a session by token, dropping it if the store-level ttl passed.
func (s *MemoryStore) Get(ctx context.Context, token string) (*Session, error) {
	sh := s.shard(token)
	sh.mu.Lock()
	entry, ok := sh.sessions[token]
	if ok && time.Now().After(entry.expireAt) {
		delete(sh.sessions, token)
		ok = false
	}
	sh.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	sess := entry.sess
	return &sess, nil
}

// Delete removes a session. Missing tokens are ignored.
func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	sh := s.shard(token)
	sh.mu.Lock()
	entry, ok := sh.sessions[token]
	delete(sh.sessions, token)
	sh.mu.Unlock()

	if ok {
		s.unindex(entry.sess.AccountID, token)
	}
	return nil
}

// DeleteAllForAccount removes every session of the account and returns the
// deleted tokens.
func (s *MemoryStore) DeleteAllForAccount(ctx context.Context, accountID string) ([]string, error) {
	ix := s.accountShard(accountID)
	ix.mu.Lock()
	set := ix.accounts[accountID]
	tokens := make([]string, 0, len(set))
	for token := range set {
		tokens = append(tokens, token)
	}
	delete(ix.accounts, accountID)
	ix.mu.Unlock()

	deleted := tokens[:0]
	for _, token := range tokens {
		sh := s.shard(token)
		sh.mu.Lock()
		_, ok := sh.sessions[token]
		delete(sh.sessions, token)
		sh.mu.Unlock()
		if ok {
			deleted = append(deleted, token)
		}
	}
	return deleted, nil
}

// ActiveTokens lists the live tokens of the account, pruning index entries
// whose session already expired.
func (s *MemoryStore) ActiveTokens(ctx context.Context, accountID string) ([]string, error) {
	ix := s.accountShard(accountID)
	ix.mu.Lock()
	set := ix.accounts[accountID]
	tokens := make([]string, 0, len(set))
	for token := range set {
		tokens = append(tokens, token)
	}
	ix.mu.Unlock()

	now := time.Now()
	live := make([]string, 0, len(tokens))
	for _, token := range tokens {
		sh := s.shard(token)
		sh.mu.Lock()
		entry, ok := sh.sessions[token]
		if ok && now.After(entry.expireAt) {
			delete(sh.sessions, token)
			ok = false
		}
		sh.mu.Unlock()

		if ok {
			live = append(live, token)
		} else {
			s.unindex(accountID, token)
		}
	}
	return live, nil
}

// ActiveCount reports how many live sessions the account holds.
func (s *MemoryStore) ActiveCount(ctx context.Context, accountID string) (int, error) {
	tokens, err := s.ActiveTokens(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// Close stops the janitor. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.once.Do(func() {
		if s.janitor != nil {
			s.janitor.Stop()
		}
		close(s.done)
	})
}

func (s *MemoryStore) unindex(accountID, token string) {
	ix := s.accountShard(accountID)
	ix.mu.Lock()
	if set, ok := ix.accounts[accountID]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(ix.accounts, accountID)
		}
	}
	ix.mu.Unlock()
}

func (s *MemoryStore) sweepLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.janitor.C:
			s.sweep(time.Now())
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		var expired []memoryEntry
		for token, entry := range sh.sessions {
			if now.After(entry.expireAt) {
				expired = append(expired, entry)
				delete(sh.sessions, token)
			}
		}
		sh.mu.Unlock()

		for _, entry := range expired {
			s.unindex(entry.sess.AccountID, entry.sess.Token)
		}
	}
}
