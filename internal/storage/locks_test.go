package storage

import (
	"sync"
	"testing"
)

func TestLocksSerializePerID(t *testing.T) {
	var l Locks
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("a")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d", counter)
	}
	if len(l.m) != 0 {
		t.Fatalf("lock entries leaked: %d", len(l.m))
	}
}

func TestLocksIndependentIDs(t *testing.T) {
	var l Locks
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		l.Lock("b")()
		close(done)
	}()
	<-done
	unlockA()
}
