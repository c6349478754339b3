package port

import (
	"testing"
	"time"

	"github.com/purpleidea/ultravm/message"
)

func addr(node int32) message.Address {
	return message.Address{Node: node}
}

func TestPortWriteDeliversToConnectedReceiver(t *testing.T) {
	out := New(addr(1), 2, 0, ModeOut)
	defer out.Close()
	in := New(addr(2), 2, 1, ModeIn)
	defer in.Close()

	if _, _, err := out.Node.Connect(in.Node); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := out.Write([]byte("line one\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && in.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}

	line, ok := in.ReadLine()
	if !ok {
		t.Fatal("ReadLine() ok = false after a newline-terminated write")
	}
	if line != "line one" {
		t.Fatalf("ReadLine() = %q, want %q", line, "line one")
	}
}

func TestPortWriteOnInputOnlyPortFails(t *testing.T) {
	in := New(addr(1), 1, 0, ModeIn)
	defer in.Close()

	if _, err := in.Write([]byte("nope")); err == nil {
		t.Fatal("Write on a ModeIn port did not return an error")
	}
}

func TestPortReadDrainsAccumulatedBuffer(t *testing.T) {
	out := New(addr(1), 2, 0, ModeOut)
	defer out.Close()
	in := New(addr(2), 2, 1, ModeIn)
	defer in.Close()
	out.Node.Connect(in.Node)

	out.Write([]byte("abc"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && in.Buffered() < 3 {
		time.Sleep(time.Millisecond)
	}

	buf := make([]byte, 3)
	n, err := in.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 3 || string(buf) != "abc" {
		t.Fatalf("Read returned (%d, %q), want (3, \"abc\")", n, buf)
	}
}

func TestPortInsertsNewlineBetweenSeparateMessages(t *testing.T) {
	out := New(addr(1), 2, 0, ModeOut)
	defer out.Close()
	in := New(addr(2), 2, 1, ModeIn)
	defer in.Close()
	out.Node.Connect(in.Node)

	// neither payload carries its own trailing newline; onMessage itself
	// must supply the separator between them.
	out.Write([]byte("first"))
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && in.Buffered() < len("first") {
		time.Sleep(time.Millisecond)
	}
	out.Write([]byte("second"))

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && in.Buffered() < len("first\nsecond") {
		time.Sleep(time.Millisecond)
	}

	buf := make([]byte, len("first\nsecond"))
	n, err := in.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf[:n]); got != "first\nsecond" {
		t.Fatalf("buffered content = %q, want %q", got, "first\nsecond")
	}
}
