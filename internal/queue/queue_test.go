package queue

import (
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := range 500 {
		q.Push(i)
	}

	for want := range 500 {
		got, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() empty at %d", want)
		}
		if got != want {
			t.Fatalf("TryPop() = %d, want %d", got, want)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned an item")
	}
}

func TestDropOldest(t *testing.T) {
	var dropped []int
	q := New(WithCapacity[int](3), WithDropFunc(func(v int) { dropped = append(dropped, v) }))

	for i := 1; i <= 5; i++ {
		q.Push(i)
	}

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	if len(dropped) != 2 || dropped[0] != 1 || dropped[1] != 2 {
		t.Errorf("dropped = %v, want [1 2]", dropped)
	}
	if q.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", q.Dropped())
	}

	head, _ := q.Peek()
	if head != 3 {
		t.Errorf("Peek() = %d, want 3", head)
	}
}

func TestPopWaitTimeout(t *testing.T) {
	q := New[string]()

	start := time.Now()
	if _, ok := q.PopWait(20 * time.Millisecond); ok {
		t.Fatal("PopWait() on empty queue returned an item")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("PopWait() returned after %v, expected to wait", elapsed)
	}
}

func TestPopWaitWakesOnPush(t *testing.T) {
	q := New[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push("hello")
	}()

	got, ok := q.PopWait(time.Second)
	if !ok || got != "hello" {
		t.Fatalf("PopWait() = %q, %v", got, ok)
	}
}

func TestDrain(t *testing.T) {
	count := 0
	q := New(WithDropFunc(func(int) { count++ }))
	q.Push(1)
	q.Push(2)

	if n := q.Drain(); n != 2 {
		t.Errorf("Drain() = %d, want 2", n)
	}
	if count != 2 {
		t.Errorf("drop callback called %d times, want 2", count)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d", q.Len())
	}
}

func TestConcurrentProducersPreserveOrder(t *testing.T) {
	q := New[[2]int]()
	var wg sync.WaitGroup

	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				q.Push([2]int{p, i})
			}
		}()
	}
	wg.Wait()

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		if item[1] != last[item[0]]+1 {
			t.Fatalf("producer %d: got %d after %d", item[0], item[1], last[item[0]])
		}
		last[item[0]] = item[1]
	}
	for p, v := range last {
		if v != 999 {
			t.Errorf("producer %d: last = %d, want 999", p, v)
		}
	}
}
