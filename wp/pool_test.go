package wp

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWorkerPool_BasicExecution(t *testing.T) {
	p := NewPool(3, 10)

	var (
		mu      sync.Mutex
		results []int
	)

	tasks := []struct {
		uid  string
		exec func()
	}{
		{"task1", func() { mu.Lock(); results = append(results, 1); mu.Unlock() }},
		{"task2", func() { mu.Lock(); results = append(results, 2); mu.Unlock() }},
		{"task3", func() { mu.Lock(); results = append(results, 3); mu.Unlock() }},
	}

	for _, task := range tasks {
		p.Submit(task.uid, task.exec)
	}

	p.Stop()

	if len(results) != 3 {
		t.Errorf("Wrong number of results: %d", len(results))
	}
}

func TestWorkerPool_GracefullyShutdown(t *testing.T) {
	p := NewPool(3, 5)
	var (
		counter int
		mu      sync.Mutex
	)

	tasks := 10
	for i := 0; i < tasks; i++ {
		p.Submit("task", func() {
			mu.Lock()
			counter++
			mu.Unlock()
		})
	}

	p.Stop()

	if counter != tasks {
		t.Errorf("Wrong number of tasks: %d", counter)
	}
}

func TestWorkerPool_SameKeyKeepsOrder(t *testing.T) {
	p := NewPool(4, 8)

	var order []int
	for i := 0; i < 50; i++ {
		i := i
		p.Submit("entity-1", func() { order = append(order, i) })
	}
	p.Stop()

	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
	if len(order) != 50 {
		t.Errorf("expected 50 tasks, got %d", len(order))
	}
}

func TestWorkerPool_PanicHandler(t *testing.T) {
	var (
		mu     sync.Mutex
		caught []string
	)
	p := NewPool(1, 2, WithPanicHandler(func(uid string, v any) {
		mu.Lock()
		caught = append(caught, uid)
		mu.Unlock()
	}))

	ran := false
	p.Submit("boom", func() { panic("boom") })
	p.Submit("after", func() { ran = true })
	p.Stop()

	if len(caught) != 1 || caught[0] != "boom" {
		t.Errorf("unexpected panics: %v", caught)
	}
	if !ran {
		t.Error("worker stopped after a panicking task")
	}
}

func TestWorkerPool_NoPanicOnNilTask(t *testing.T) {
	p := NewPool(2, 2)
	defer p.Stop()

	p.Submit("nil-task", nil)

	time.Sleep(time.Millisecond * 100)
}

func TestWorkerPool_NoSubmitAfterStop(t *testing.T) {
	p := NewPool(2, 2)
	p.Stop()
	p.Stop()

	p.Submit("stopped-task", func() {})
	if err := p.TrySubmit("stopped-task", func() {}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}
