package execution

import "sync"

// keyLock 按 (agent, symbol) 串行化执行核心入口，
// 不同键之间完全并行。
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*sync.Mutex)}
}

// Acquire 获取指定键的互斥锁，返回释放函数。
func (k *keyLock) Acquire(agent, symbol string) func() {
	key := agent + "|" + symbol

	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
