package gopool

import (
	"sync"
	"testing"
	"time"
)

func TestScheduleRunsTasks(t *testing.T) {

	p := NewPool(4, 4, 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		p.Schedule(func() {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}

	wg.Wait()
	if ran != 16 {
		t.Errorf("expected 16 executed tasks, got %d", ran)
	}
}

func TestScheduleTimeoutWhenSaturated(t *testing.T) {

	p := NewPool(1, 0, 1)

	block := make(chan struct{})
	started := make(chan struct{})

	p.Schedule(func() {
		close(started)
		<-block
	})
	<-started

	err := p.ScheduleTimeout(20*time.Millisecond, func() {})
	if err != ErrScheduleTimeout {
		t.Errorf("expected ErrScheduleTimeout, got %v", err)
	}

	close(block)
}
