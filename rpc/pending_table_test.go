package rpc

import (
	"errors"
	"testing"

	"go.uber.org/goleak"

	"utran/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegisterSignalDelivers(t *testing.T) {
	tbl := NewPendingTable()
	ch, err := tbl.Register(1)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	resp := &message.Response{ID: 1, State: message.StateSuccess, Result: "ok"}
	if !tbl.Signal(resp) {
		t.Fatal("expected Signal to find the waiter")
	}

	got := <-ch
	if got.Result != "ok" {
		t.Errorf("unexpected result: %+v", got)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected table empty after signal, got %d", tbl.Len())
	}
}

func TestDuplicateRegisterFails(t *testing.T) {
	tbl := NewPendingTable()
	if _, err := tbl.Register(1); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if _, err := tbl.Register(1); err == nil {
		t.Fatal("expected error registering duplicate id")
	}
}

func TestSignalWithNoWaiterIsCached(t *testing.T) {
	tbl := NewPendingTable()
	if tbl.Signal(&message.Response{ID: 99, State: message.StateSuccess, Result: "early"}) {
		t.Fatal("expected Signal to report no waiter found")
	}
	if !tbl.HasPending(99) {
		t.Fatal("expected the early response to be cached")
	}

	ch, err := tbl.Register(99)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	got := <-ch
	if got.Result != "early" {
		t.Errorf("expected cached response delivered on Register, got %+v", got)
	}
}

func TestPopClaimsCachedResponseWithoutBlocking(t *testing.T) {
	tbl := NewPendingTable()
	tbl.Signal(&message.Response{ID: 7, State: message.StateSuccess, Result: "ok"})

	resp, ok := tbl.Pop(7)
	if !ok {
		t.Fatal("expected Pop to find the cached response")
	}
	if resp.Result != "ok" {
		t.Errorf("unexpected result: %+v", resp)
	}
	if tbl.HasPending(7) {
		t.Fatal("expected Pop to remove the cached response")
	}
}

func TestCancelRemovesWaiter(t *testing.T) {
	tbl := NewPendingTable()
	if _, err := tbl.Register(1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !tbl.Cancel(1) {
		t.Fatal("expected Cancel to find the waiter")
	}
	if tbl.Cancel(1) {
		t.Fatal("expected second Cancel to report nothing found")
	}
}

func TestCancelAllDeliversToEveryWaiter(t *testing.T) {
	tbl := NewPendingTable()
	ch1, _ := tbl.Register(1)
	ch2, _ := tbl.Register(2)

	reason := errors.New("disconnected")
	tbl.CancelAll(reason)

	r1 := <-ch1
	r2 := <-ch2
	if r1.State != message.StateFailed || r1.Error != reason.Error() {
		t.Errorf("waiter 1 not cancelled correctly: %+v", r1)
	}
	if r2.State != message.StateFailed || r2.Error != reason.Error() {
		t.Errorf("waiter 2 not cancelled correctly: %+v", r2)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected table empty after CancelAll, got %d", tbl.Len())
	}
}
