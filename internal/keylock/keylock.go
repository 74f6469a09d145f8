// Package keylock 提供按键细粒度互斥锁，避免存储层全局大锁。
package keylock

import "sync"

type entry struct {
	mu  sync.Mutex
	ref int
}

// KeyLock 按 int64 键分配互斥锁，引用计数归零即回收
type KeyLock struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// New 创建键锁
func New() *KeyLock {
	return &KeyLock{entries: make(map[int64]*entry)}
}

// Lock 锁定指定键，返回对应的解锁函数
func (k *KeyLock) Lock(key int64) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.ref++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.ref--
		if e.ref == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
