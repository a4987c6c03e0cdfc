package utils

import (
	"sync"
	"sync/atomic"
)

// LoopMode is the lifecycle shared by every component that runs long-term goroutines.
// The owner calls StartWorking() in its setup function and Stop() in its cleanup function.
// Each goroutine is started with Go and should return once D is closed:
/*
	lm.Go(func() {
		for {
			select {
			case <-lm.D:
				return
			// case :...other goroutine logic
			}
		}
	})
*/
type LoopMode struct {
	working   int32
	waitGroup sync.WaitGroup
	once      sync.Once
	D         chan struct{}
}

// NewLoop returns a LoopMode ready to start goroutines
func NewLoop() *LoopMode {
	return &LoopMode{
		D: make(chan struct{}),
	}
}

func (l *LoopMode) StartWorking() {
	atomic.StoreInt32(&l.working, 1)
}

// Go runs f in a goroutine tracked by Stop
func (l *LoopMode) Go(f func()) {
	l.waitGroup.Add(1)
	go func() {
		defer l.waitGroup.Done()
		f()
	}()
}

// Stop closes D and waits for the goroutines. If it's not working, return false; otherwise return true.
func (l *LoopMode) Stop() bool {
	if !atomic.CompareAndSwapInt32(&l.working, 1, 0) {
		return false
	}

	l.once.Do(func() { close(l.D) })
	l.waitGroup.Wait()
	return true
}

func (l *LoopMode) IsWorking() bool {
	return atomic.LoadInt32(&l.working) == 1
}
