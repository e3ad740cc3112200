package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/smazurov/rtsppull/internal/media"
)

func pkt(n int) *media.Packet {
	return &media.Packet{Kind: media.KindAudio, Data: []byte{byte(n)}, PTS: int64(n)}
}

func TestPushPopOrder(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		q.Push(pkt(i))
	}
	for i := 0; i < 5; i++ {
		p, ok := q.Pop(time.Millisecond)
		if !ok {
			t.Fatalf("pop %d failed", i)
		}
		if p.PTS != int64(i) {
			t.Errorf("pop %d: got PTS %d", i, p.PTS)
		}
	}
}

func TestPopTimeout(t *testing.T) {
	q := New(10)
	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("returned too early: %v", elapsed)
	}
}

func TestOverflowDropsOldestToHalf(t *testing.T) {
	q := New(100)
	var dropped int
	q.OnOverflow = func(n int) { dropped += n }

	for i := 0; i < 500; i++ {
		q.Push(pkt(i))
		if q.Len() > 100 {
			t.Fatalf("depth %d exceeds cap after push %d", q.Len(), i)
		}
	}

	if dropped == 0 {
		t.Fatal("expected overflow drops")
	}
	// Survivors must be the newest packets in order.
	prev := int64(-1)
	for {
		p, ok := q.Pop(time.Millisecond)
		if !ok {
			break
		}
		if p.PTS <= prev {
			t.Fatalf("order violated: %d after %d", p.PTS, prev)
		}
		prev = p.PTS
	}
	if prev != 499 {
		t.Errorf("newest packet lost, last PTS %d", prev)
	}
}

func TestDropModeTransitions(t *testing.T) {
	q := New(100)
	var transitions []bool
	q.OnDropMode = func(entered bool) { transitions = append(transitions, entered) }

	for i := 0; i < 150; i++ {
		q.Push(pkt(i))
	}
	if !q.DropMode() {
		t.Fatal("expected drop mode after overflow")
	}
	if len(transitions) != 1 || !transitions[0] {
		t.Fatalf("expected single entry transition, got %v", transitions)
	}

	// Drain below cap/4 to clear the flag.
	for q.Len() >= 25 {
		if _, ok := q.Pop(time.Millisecond); !ok {
			t.Fatal("unexpected empty queue")
		}
	}
	if _, ok := q.Pop(time.Millisecond); !ok {
		t.Fatal("unexpected empty queue")
	}
	if q.DropMode() {
		t.Error("drop mode should clear below cap/4")
	}
	if len(transitions) != 2 || transitions[1] {
		t.Errorf("expected exit transition, got %v", transitions)
	}
}

func TestOverflowKeepsEOS(t *testing.T) {
	q := New(10)
	q.Push(media.EOSPacket())
	for i := 0; i < 50; i++ {
		q.Push(pkt(i))
	}

	sawEOS := false
	for {
		p, ok := q.Pop(time.Millisecond)
		if !ok {
			break
		}
		if p.IsEOS() {
			sawEOS = true
		}
	}
	if !sawEOS {
		t.Error("EOS sentinel was dropped by overflow")
	}
}

func TestCloseWakesWaiter(t *testing.T) {
	q := New(10)
	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan bool, 1)
	go func() {
		defer wg.Done()
		_, ok := q.Pop(5 * time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("pop on closed empty queue should fail")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake the waiter")
	}
	wg.Wait()
}

func TestClearResets(t *testing.T) {
	q := New(10)
	for i := 0; i < 15; i++ {
		q.Push(pkt(i))
	}
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("len after clear = %d", q.Len())
	}
	if q.DropMode() {
		t.Error("drop mode survives clear")
	}
	q.Push(pkt(1))
	if q.Len() != 1 {
		t.Error("queue unusable after clear")
	}
}
