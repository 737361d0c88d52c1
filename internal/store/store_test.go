package store

import (
	"testing"
	"time"
)

func TestGetAfterSet(t *testing.T) {
	s := New()
	defer s.Close()

	s.Set("hello", []byte("world"), nil)
	v, ok := s.Get("hello")
	if !ok || string(v) != "world" {
		t.Fatalf("got %q, %v", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := New()
	defer s.Close()

	if _, ok := s.Get("nope"); ok {
		t.Fatal("expected miss")
	}
}

func TestSetOverwriteReplacesValue(t *testing.T) {
	s := New()
	defer s.Close()

	s.Set("k", []byte("v1"), nil)
	s.Set("k", []byte("v2"), nil)
	v, _ := s.Get("k")
	if string(v) != "v2" {
		t.Fatalf("got %q, want v2", v)
	}
}

func TestSetAssignsStrictlyIncreasingIDs(t *testing.T) {
	s := New()
	defer s.Close()

	s.mu.Lock()
	before := s.nextID
	s.mu.Unlock()

	s.Set("k", []byte("v1"), nil)
	s.Set("k", []byte("v2"), nil)

	s.mu.Lock()
	after := s.nextID
	s.mu.Unlock()

	if after != before+2 {
		t.Fatalf("expected nextID to advance by 2, got %d -> %d", before, after)
	}
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s := New()
	defer s.Close()

	v := []byte("world")
	s.Set("k", v, nil)
	got, _ := s.Get("k")
	got[0] = 'X'

	again, _ := s.Get("k")
	if string(again) != "world" {
		t.Fatalf("mutating returned slice affected store: %q", again)
	}
}

func TestExpiryRemovesKeyAfterDelay(t *testing.T) {
	s := New()
	defer s.Close()

	ttl := 20 * time.Millisecond
	s.Set("foo", []byte("bar"), &ttl)

	if v, ok := s.Get("foo"); !ok || string(v) != "bar" {
		t.Fatalf("expected immediate hit, got %q, %v", v, ok)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := s.Get("foo"); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("key never expired within bound")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSetWithoutTTLNeverExpires(t *testing.T) {
	s := New()
	defer s.Close()

	s.Set("k", []byte("v"), nil)
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("key without TTL should not expire")
	}
}

func TestOverwriteClearsPriorExpiration(t *testing.T) {
	s := New()
	defer s.Close()

	short := 10 * time.Millisecond
	s.Set("k", []byte("v1"), &short)
	s.Set("k", []byte("v2"), nil) // overwrite, drop TTL

	time.Sleep(50 * time.Millisecond)
	v, ok := s.Get("k")
	if !ok || string(v) != "v2" {
		t.Fatalf("overwrite should have cancelled the earlier TTL, got %q, %v", v, ok)
	}
}

func TestExpirationIndexInvariantAfterManySets(t *testing.T) {
	s := New()
	defer s.Close()

	d := time.Hour
	for i := 0; i < 50; i++ {
		s.Set("k", []byte("v"), &d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.expirations.items) != 1 {
		t.Fatalf("expected exactly one expiration record for repeatedly-overwritten key, got %d", len(s.expirations.items))
	}
	e := s.entries["k"]
	rec := s.expirations.items[0]
	if rec.key != "k" || rec.id != e.id {
		t.Fatalf("expiration record %+v does not match entry id %d", rec, e.id)
	}
}

func TestPublishWithNoSubscribersReturnsZero(t *testing.T) {
	s := New()
	defer s.Close()

	if n := s.Publish("ch", []byte("m")); n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}

func TestSubscribeThenPublishDelivers(t *testing.T) {
	s := New()
	defer s.Close()

	sub, _ := s.Subscribe("ch")
	n := s.Publish("ch", []byte("hi"))
	if n != 1 {
		t.Fatalf("got %d subscribers, want 1", n)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg.Payload) != "hi" || msg.Channel != "ch" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscribeReportsGrowingCount(t *testing.T) {
	s := New()
	defer s.Close()

	_, n1 := s.Subscribe("ch")
	_, n2 := s.Subscribe("ch")
	if n1 != 1 || n2 != 2 {
		t.Fatalf("got %d, %d, want 1, 2", n1, n2)
	}
}

func TestUnsubscribeReturnsRemainingCount(t *testing.T) {
	s := New()
	defer s.Close()

	subA, _ := s.Subscribe("ch")
	_, _ = s.Subscribe("ch")

	remaining := s.Unsubscribe(subA)
	if remaining != 1 {
		t.Fatalf("got %d, want 1", remaining)
	}
}
