package whip

import "sync"

// UnloadHooks is a one-shot notification fired before the hosting process goes away.
type UnloadHooks struct {
	mutex sync.Mutex
	next  int
	hooks map[int]func()
	fired bool
}

// Register adds fn and returns a function removing it.
// If the hooks already fired, fn runs immediately.
func (u *UnloadHooks) Register(fn func()) (remove func()) {
	u.mutex.Lock()
	if u.fired {
		u.mutex.Unlock()
		fn()
		return func() {}
	}
	if u.hooks == nil {
		u.hooks = make(map[int]func())
	}
	id := u.next
	u.next++
	u.hooks[id] = fn
	u.mutex.Unlock()

	return func() {
		u.mutex.Lock()
		defer u.mutex.Unlock()
		delete(u.hooks, id)
	}
}

// Len returns the number of registered hooks.
func (u *UnloadHooks) Len() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return len(u.hooks)
}

// Fire runs every registered hook once, concurrently, and waits for them.
func (u *UnloadHooks) Fire() {
	u.mutex.Lock()
	if u.fired {
		u.mutex.Unlock()
		return
	}
	u.fired = true
	hooks := u.hooks
	u.hooks = nil
	u.mutex.Unlock()

	var wg sync.WaitGroup
	for _, fn := range hooks {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			fn()
		}(fn)
	}
	wg.Wait()
}
