// Package nonce 为每个交易所维护严格递增的认证计数器。
package nonce

import (
	"sync"
	"time"
)

// Store 按交易所键控的原子计数器。实现必须保证 Next 线性一致：
// 并发调用互不重复且严格递增。
type Store interface {
	// Init 若该交易所尚无记录则以 start 建档并返回 true；已存在时不做任何事返回 false。
	Init(venue string, start int64) (bool, error)
	// Next 原子地自增并返回新值。
	Next(venue string) (int64, error)
}

// MemoryStore 互斥锁保护的内存实现，进程重启后计数器丢失。
// 测试与短寿命工具使用；长期运行的进程用 SQLiteStore。
type MemoryStore struct {
	mu  sync.Mutex
	seq map[string]int64
}

// NewMemoryStore 构造空的内存计数器。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seq: make(map[string]int64)}
}

func (s *MemoryStore) Init(venue string, start int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seq[venue]; ok {
		return false, nil
	}
	s.seq[venue] = start
	return true, nil
}

func (s *MemoryStore) Next(venue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[venue]++
	return s.seq[venue], nil
}

// BoundedStart 给 nonce 上限为 32 位无符号数的交易所（btce）计算起始值。
// 直接用微秒或毫秒时间戳会立即溢出，所以取十分之一秒并减去固定偏移。
// 上限 4294967294 对应 (4294967294+16e9)/10 ≈ 2029496729 秒，
// 即 2034-04-22 之前该起始值不会越界；越界由调用方在 Next 之后检查。
func BoundedStart(now time.Time) int64 {
	return now.Unix()*10 - 16_000_000_000
}

// Bounded32 btce 式 nonce 的最大可接受值。
const Bounded32 int64 = 4294967294
