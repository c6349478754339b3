package graph

import (
	"sync"
	"testing"
	"time"

	"github.com/purpleidea/ultravm/message"
)

func addr(node int32) message.Address {
	return message.Address{Cluster: 0, Space: 0, Field: 0, Node: node}
}

func TestConnectAddsEdgeToBothEndpoints(t *testing.T) {
	a := New(addr(1), 2, 0, nil)
	defer a.Close()
	b := New(addr(2), 2, 1, nil)
	defer b.Close()

	handle, created, err := a.Connect(b)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !created {
		t.Fatal("Connect reported no-op on a fresh pair")
	}
	if handle == "" {
		t.Fatal("Connect returned an empty handle")
	}

	waitForLen(t, func() int { return len(b.Senders()) }, 1)
	if got := a.Receivers(); len(got) != 1 || got[0].Handle != handle {
		t.Fatalf("a.Receivers() = %v, want one edge with handle %q", got, handle)
	}
	if got := b.Senders(); len(got) != 1 || got[0].Handle != handle {
		t.Fatalf("b.Senders() = %v, want one edge with handle %q", got, handle)
	}
}

func TestConnectIsNoopWhenAlreadyConnected(t *testing.T) {
	a := New(addr(1), 2, 0, nil)
	defer a.Close()
	b := New(addr(2), 2, 1, nil)
	defer b.Close()

	handle1, created1, err := a.Connect(b)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !created1 {
		t.Fatal("first Connect reported no-op")
	}

	handle2, created2, err := a.Connect(b)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if created2 {
		t.Fatal("second Connect to the same target did not report a no-op")
	}
	if handle2 != handle1 {
		t.Fatalf("second Connect handle = %q, want %q (same edge)", handle2, handle1)
	}
	if len(a.Receivers()) != 1 {
		t.Fatalf("a.Receivers() = %d edges, want 1 (no duplicate edge)", len(a.Receivers()))
	}
}

func TestConnectAdvancesSenderClock(t *testing.T) {
	a := New(addr(1), 2, 0, nil)
	defer a.Close()
	b := New(addr(2), 2, 1, nil)
	defer b.Close()

	before := a.Clock.At(0)
	if _, _, err := a.Connect(b); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if a.Clock.At(0) != before+1 {
		t.Fatalf("a.Clock.At(0) = %d, want %d", a.Clock.At(0), before+1)
	}
}

func waitForLen(t *testing.T, f func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if got := f(); got != want {
		t.Fatalf("timed out waiting for length %d, got %d", want, got)
	}
}

func TestDisconnectRemovesEdgeFromBothEndpoints(t *testing.T) {
	a := New(addr(1), 2, 0, nil)
	defer a.Close()
	b := New(addr(2), 2, 1, nil)
	defer b.Close()

	handle, _, _ := a.Connect(b)
	waitForLen(t, func() int { return len(b.Senders()) }, 1)
	edge := a.Receivers()[0]
	if edge.Handle != handle {
		t.Fatalf("edge.Handle = %q, want %q", edge.Handle, handle)
	}

	Disconnect(edge)

	if len(a.Receivers()) != 0 {
		t.Fatal("a still has a receiver edge after Disconnect")
	}
	if len(b.Senders()) != 0 {
		t.Fatal("b still has a sender edge after Disconnect")
	}
}

func TestDisconnectOnAlreadyDisconnectedEdgeIsNoop(t *testing.T) {
	a := New(addr(1), 2, 0, nil)
	defer a.Close()
	b := New(addr(2), 2, 1, nil)
	defer b.Close()

	_, _, _ = a.Connect(b)
	waitForLen(t, func() int { return len(b.Senders()) }, 1)
	edge := a.Receivers()[0]

	Disconnect(edge)
	Disconnect(edge) // second call must not panic or double-remove anything

	if len(a.Receivers()) != 0 || len(b.Senders()) != 0 {
		t.Fatal("edge lists not empty after double Disconnect")
	}
}

func TestDisconnectAllSendersAndReceivers(t *testing.T) {
	hub := New(addr(0), 4, 0, nil)
	defer hub.Close()
	n1 := New(addr(1), 4, 1, nil)
	defer n1.Close()
	n2 := New(addr(2), 4, 2, nil)
	defer n2.Close()
	n3 := New(addr(3), 4, 3, nil)
	defer n3.Close()

	n1.Connect(hub)
	n2.Connect(hub)
	hub.Connect(n3)

	waitForLen(t, func() int { return len(hub.Senders()) }, 2)
	hub.DisconnectAllSenders()
	if len(hub.Senders()) != 0 {
		t.Fatal("hub still has senders after DisconnectAllSenders")
	}
	if len(n1.Receivers()) != 0 || len(n2.Receivers()) != 0 {
		t.Fatal("upstream nodes still reference hub after DisconnectAllSenders")
	}
	// the outgoing edge to n3 must be untouched.
	if len(hub.Receivers()) != 1 {
		t.Fatal("DisconnectAllSenders affected the outgoing edge")
	}

	hub.DisconnectAllReceivers()
	if len(hub.Receivers()) != 0 {
		t.Fatal("hub still has receivers after DisconnectAllReceivers")
	}
	if len(n3.Senders()) != 0 {
		t.Fatal("n3 still references hub after DisconnectAllReceivers")
	}
}

func TestBroadcastDeliversToAllReceivers(t *testing.T) {
	sender := New(addr(0), 3, 0, nil)
	defer sender.Close()

	var gotA, gotB []byte
	doneA := make(chan struct{})
	doneB := make(chan struct{})
	recvA := New(addr(1), 3, 1, func(_ *Node, m *message.Message) {
		gotA = m.Data
		close(doneA)
	})
	defer recvA.Close()
	recvB := New(addr(2), 3, 2, func(_ *Node, m *message.Message) {
		gotB = m.Data
		close(doneB)
	})
	defer recvB.Close()

	sender.Connect(recvA)
	sender.Connect(recvB)

	sender.Broadcast(message.TypePortData, []byte("payload"))

	for _, done := range []chan struct{}{doneA, doneB} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("broadcast message never arrived")
		}
	}
	if string(gotA) != "payload" || string(gotB) != "payload" {
		t.Fatalf("gotA=%q gotB=%q, want both %q", gotA, gotB, "payload")
	}
}

func TestConnectSplicesSenderEdgeOnPeerStrand(t *testing.T) {
	a := New(addr(1), 2, 0, nil)
	defer a.Close()
	b := New(addr(2), 2, 1, nil)
	defer b.Close()

	// a.Connect(b) only touches a.receivers directly; b's senders list is
	// only ever mutated by b's own strand processing the posted
	// connect_sender message.
	handle, created, err := a.Connect(b)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !created {
		t.Fatal("Connect reported a no-op on a fresh pair")
	}

	waitForLen(t, func() int { return len(b.Senders()) }, 1)
	if got := b.Senders(); got[0].Handle != handle {
		t.Fatalf("b.Senders()[0].Handle = %q, want %q", got[0].Handle, handle)
	}
}

func TestConnectAndWriteAdvanceBothClocksPastZero(t *testing.T) {
	p1 := New(addr(1), 2, 0, nil)
	defer p1.Close()

	var gotMu sync.Mutex
	var got []byte
	p2Done := make(chan struct{}, 1)
	p2 := New(addr(2), 2, 1, func(_ *Node, m *message.Message) {
		gotMu.Lock()
		got = m.Data
		gotMu.Unlock()
		select {
		case p2Done <- struct{}{}:
		default:
		}
	})
	defer p2.Close()

	if _, _, err := p1.Connect(p2); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForLen(t, func() int { return len(p2.Senders()) }, 1)

	p1.Broadcast(message.TypePortData, []byte("123"))

	select {
	case <-p2Done:
	case <-time.After(time.Second):
		t.Fatal("broadcast message never arrived")
	}

	if p1.Clock.At(0) < 2 {
		t.Fatalf("p1.Clock.At(0) = %d, want >= 2 (one advance for connect, one for write)", p1.Clock.At(0))
	}
	if p2.Clock.At(1) < 2 {
		t.Fatalf("p2.Clock.At(1) = %d, want >= 2 (one advance per dispatched message)", p2.Clock.At(1))
	}

	gotMu.Lock()
	defer gotMu.Unlock()
	if string(got) != "123" {
		t.Fatalf("got = %q, want %q", got, "123")
	}
}
