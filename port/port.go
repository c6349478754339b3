// Package port implements Port, a Node subtype that exposes a text
// stream-buffer interface: writes broadcast as port_data messages to
// connected receivers, and reads drain a locally accumulated buffer.
package port

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/purpleidea/ultravm/graph"
	"github.com/purpleidea/ultravm/message"
)

// Mode describes how a Port may be used, matching the open-mode vocabulary
// of a text stream.
type Mode int32

const (
	ModeIn Mode = iota
	ModeOut
	ModeInOut
	ModeApp
	ModeAte
	ModeTrunc
	ModeBinary
)

func (m Mode) String() string {
	switch m {
	case ModeIn:
		return "in"
	case ModeOut:
		return "out"
	case ModeInOut:
		return "inout"
	case ModeApp:
		return "app"
	case ModeAte:
		return "ate"
	case ModeTrunc:
		return "trunc"
	case ModeBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Port is a Node that reads and writes through a buffered byte stream rather
// than an arbitrary message handler.
type Port struct {
	*graph.Node
	Mode Mode

	mu  sync.Mutex
	buf bytes.Buffer
}

// New constructs a Port at addr, wired to n cluster members at owner index
// for its vector clock. Incoming port_data messages are appended to the
// read buffer; every other message type falls through to the embedded
// Node's connect/disconnect handling.
func New(addr message.Address, n, owner int, mode Mode) *Port {
	p := &Port{Mode: mode}
	p.Node = graph.New(addr, n, owner, p.onMessage)
	return p
}

func (p *Port) onMessage(_ *graph.Node, m *message.Message) {
	if m.Type != message.TypePortData {
		return
	}
	p.mu.Lock()
	if p.buf.Len() > 0 {
		p.buf.WriteByte('\n')
	}
	p.buf.Write(m.Data)
	p.mu.Unlock()
}

// Write sends data to every connected receiver as a port_data message. It
// does not write to the port's own read buffer, whatever the Mode. It returns the number of bytes accepted, mirroring
// io.Writer's contract.
func (p *Port) Write(data []byte) (int, error) {
	if p.Mode == ModeIn {
		return 0, fmt.Errorf("port: write on an input-only port")
	}
	cp := append([]byte(nil), data...)
	p.Node.Broadcast(message.TypePortData, cp)
	return len(data), nil
}

// Read drains up to len(p) bytes from the locally accumulated buffer.
func (p *Port) Read(out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Read(out)
}

// ReadLine consumes one newline-terminated line from the buffer, blocking
// callers should poll; it returns ok=false if no full line is buffered yet.
func (p *Port) ReadLine() (line string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.buf.Bytes()
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return "", false
	}
	line = string(b[:idx])
	p.buf.Next(idx + 1)
	return line, true
}

// Buffered returns the current unread byte count.
func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}
