package tracker

import "sync"

// Tracker keeps a set of pending background tasks alive until settlement.
// Work started from an event handler registers here so the process can
// report readiness only once every registered task has settled.
type Tracker struct {
	wg sync.WaitGroup
}

func New() *Tracker {
	return &Tracker{}
}

// Go runs fn in its own goroutine, registered for the duration of the call.
func (t *Tracker) Go(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Add registers pending work started elsewhere. Pair with Done.
func (t *Tracker) Add() {
	t.wg.Add(1)
}

func (t *Tracker) Done() {
	t.wg.Done()
}

// Wait blocks until all registered tasks have settled.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
