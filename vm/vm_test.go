package vm

import (
	"testing"
	"time"

	"github.com/purpleidea/ultravm/clock"
	"github.com/purpleidea/ultravm/graph"
	"github.com/purpleidea/ultravm/message"
)

func timeoutChan() <-chan time.Time {
	return time.After(time.Second)
}

func TestRegisterAndLookup(t *testing.T) {
	v := New(Config{})
	defer v.Pool.Shutdown()
	defer v.Network.Shutdown()

	n := graph.New(message.Address{Node: 1}, 1, 0, nil)
	defer n.Close()

	v.Register(n)

	got := v.Lookup(n.Addr)
	if got != n {
		t.Fatal("Lookup did not return the registered node")
	}

	v.Unregister(n.Addr)
	if v.Lookup(n.Addr) != nil {
		t.Fatal("node still found after Unregister")
	}
}

func TestPostMessageUnknownAddressErrors(t *testing.T) {
	v := New(Config{})
	defer v.Pool.Shutdown()
	defer v.Network.Shutdown()

	m := message.New(clock.NewVector(1, 0), message.Address{}, message.Address{Node: 99}, message.TypePing, nil)
	if err := v.PostMessage(m); err == nil {
		t.Fatal("PostMessage to an unregistered address did not error")
	}
}

func TestPostMessageDeliversToRegisteredNode(t *testing.T) {
	v := New(Config{})
	defer v.Pool.Shutdown()
	defer v.Network.Shutdown()

	received := make(chan *message.Message, 1)
	n := graph.New(message.Address{Node: 1}, 1, 0, func(_ *graph.Node, m *message.Message) {
		received <- m
	})
	defer n.Close()
	v.Register(n)

	m := message.New(clock.NewVector(1, 0), message.Address{Node: 2}, n.Addr, message.TypePortData, []byte("hi"))
	if err := v.PostMessage(m); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	select {
	case got := <-received:
		if string(got.Data) != "hi" {
			t.Fatalf("Data = %q, want %q", got.Data, "hi")
		}
	case <-timeoutChan():
		t.Fatal("message never delivered")
	}
}
