// Package lock 提供按项目ID的互斥，保证同一项目的写操作串行执行
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout 在等待时间内未拿到锁
var ErrTimeout = errors.New("lock acquire timeout")

// Locker 按 key 加锁，返回的 unlock 可重复调用
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedMutex 进程内的按 key 互斥锁
type KeyedMutex struct {
	mu          sync.Mutex
	locks       map[string]*keyLock
	waitTimeout time.Duration
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex 创建进程内互斥锁，waitTimeout 为0时只受 ctx 控制
func NewKeyedMutex(waitTimeout time.Duration) *KeyedMutex {
	return &KeyedMutex{
		locks:       make(map[string]*keyLock),
		waitTimeout: waitTimeout,
	}
}

// Lock 获取 key 对应的锁
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	if m.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.waitTimeout)
		defer cancel()
	}

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				m.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, l)
		return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, key, ctx.Err())
	}
}

// release 引用计数归零时回收
func (m *KeyedMutex) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// size 当前持有或等待中的 key 数量
func (m *KeyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
