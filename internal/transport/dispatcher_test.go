package transport

import (
	"testing"
	"time"
)

func TestRegisterAndDispatch(t *testing.T) {
	d := NewDispatcher()

	var got []string
	d.Register("chat:new", func(payload interface{}) {
		got = append(got, payload.(string))
	})

	d.Dispatch("chat:new", "a")
	d.Dispatch("chat:new", "b")
	d.Dispatch("presence:snapshot", "ignored")

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected delivery order: %v", got)
	}
}

func TestDispatch_RegistrationOrder(t *testing.T) {
	d := NewDispatcher()

	var order []int
	d.Register("connect", func(interface{}) { order = append(order, 1) })
	d.Register("connect", func(interface{}) { order = append(order, 2) })
	d.Register("connect", func(interface{}) { order = append(order, 3) })

	d.Dispatch("connect", nil)

	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("expected registration order, got %v", order)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()

	calls := 0
	sub := d.Register("disconnect", func(interface{}) { calls++ })

	d.Dispatch("disconnect", nil)
	sub.Unsubscribe()
	d.Dispatch("disconnect", nil)

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	d := NewDispatcher()

	sub := d.Register("connect", func(interface{}) {})
	sub.Unsubscribe()
	sub.Unsubscribe() // must not panic or affect other handlers

	calls := 0
	d.Register("connect", func(interface{}) { calls++ })
	d.Dispatch("connect", nil)
	if calls != 1 {
		t.Errorf("expected surviving handler to fire once, got %d", calls)
	}
}

func TestUnsubscribe_OnlyRemovesOwnHandler(t *testing.T) {
	d := NewDispatcher()

	var a, b int
	subA := d.Register("chat:new", func(interface{}) { a++ })
	d.Register("chat:new", func(interface{}) { b++ })

	subA.Unsubscribe()
	d.Dispatch("chat:new", nil)

	if a != 0 {
		t.Errorf("unsubscribed handler fired %d times", a)
	}
	if b != 1 {
		t.Errorf("expected remaining handler to fire once, got %d", b)
	}
}

func TestRunSerializedWithDispatch(t *testing.T) {
	d := NewDispatcher()

	entered := make(chan struct{})
	release := make(chan struct{})
	var order []string

	d.Register("chat:new", func(interface{}) {
		close(entered)
		<-release
		order = append(order, "handler")
	})

	dispatched := make(chan struct{})
	go func() {
		d.Dispatch("chat:new", nil)
		close(dispatched)
	}()

	<-entered
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	// Run must wait for the in-flight handler before fn executes.
	d.Run(func() { order = append(order, "action") })
	<-dispatched

	if len(order) != 2 || order[0] != "handler" || order[1] != "action" {
		t.Fatalf("expected handler before action, got %v", order)
	}
}
