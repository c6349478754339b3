package graph

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/purpleidea/ultravm/message"
)

// Edge is a directed link from a sender Node to a receiver Node. The
// receiver is held as an atomic pointer so a concurrent Disconnect can CAS it
// to nil without taking either node's edge-list lock, making teardown safe
// while the edge is mid-traversal on another goroutine.
type Edge struct {
	Handle string // opaque text handle, stable across the edge's lifetime
	Weight float64

	sender   *Node
	receiver atomic.Pointer[Node]

	nextForSender   *Edge // next edge in sender's receivers list
	nextForReceiver *Edge // next edge in receiver's senders list
}

// newHandle mints a fresh edge handle. mgmt's edge list ordering relied on
// pointer values as a performance heuristic only (never for correctness);
// ultravm sidesteps that entirely: edges are named by a random UUID handle
// instead of any address, and the lists are not ordered at all (Connect
// prepends new edges).
func newHandle() string {
	return uuid.NewString()
}

// edgeRegistry is the process-local stand-in for the raw edge pointer the
// original carries as opaque text across a connect_sender message: the
// handle crosses into the message as data, and the receiving node's strand
// looks the live *Edge back up here instead of reconstructing it.
var (
	edgeRegistryMu sync.Mutex
	edgeRegistry   = map[string]*Edge{}
)

func registerEdge(e *Edge) {
	edgeRegistryMu.Lock()
	edgeRegistry[e.Handle] = e
	edgeRegistryMu.Unlock()
}

func lookupEdge(handle string) *Edge {
	edgeRegistryMu.Lock()
	defer edgeRegistryMu.Unlock()
	return edgeRegistry[handle]
}

func unregisterEdge(handle string) {
	edgeRegistryMu.Lock()
	delete(edgeRegistry, handle)
	edgeRegistryMu.Unlock()
}

// FindSenderEdge returns the edge in n's senders list coming from addr, or
// nil if none.
func (n *Node) FindSenderEdge(addr message.Address) *Edge {
	n.edgeMu.Lock()
	defer n.edgeMu.Unlock()
	for e := n.senders; e != nil; e = e.nextForReceiver {
		if e.sender.Addr == addr {
			return e
		}
	}
	return nil
}

// FindReceiverEdge returns the edge in n's receivers list going to addr, or
// nil if none.
func (n *Node) FindReceiverEdge(addr message.Address) *Edge {
	n.edgeMu.Lock()
	defer n.edgeMu.Unlock()
	for e := n.receivers; e != nil; e = e.nextForSender {
		if r := e.receiver.Load(); r != nil && r.Addr == addr {
			return e
		}
	}
	return nil
}

func (n *Node) removeReceiverEdge(e *Edge) {
	n.edgeMu.Lock()
	defer n.edgeMu.Unlock()
	n.receivers = removeFromList(n.receivers, e, true)
}

func (n *Node) removeSenderEdge(e *Edge) {
	n.edgeMu.Lock()
	defer n.edgeMu.Unlock()
	n.senders = removeFromList(n.senders, e, false)
}

func removeFromList(head *Edge, target *Edge, bySender bool) *Edge {
	var prev *Edge
	cur := head
	for cur != nil {
		next := nextOf(cur, bySender)
		if cur == target {
			if prev == nil {
				return next
			}
			setNext(prev, next, bySender)
			return head
		}
		prev = cur
		cur = next
	}
	return head
}

func nextOf(e *Edge, bySender bool) *Edge {
	if bySender {
		return e.nextForSender
	}
	return e.nextForReceiver
}

func setNext(e, next *Edge, bySender bool) {
	if bySender {
		e.nextForSender = next
	} else {
		e.nextForReceiver = next
	}
}

// Connect is the local half of the connect algorithm: it walks n's
// receivers list for an edge already pointing at target, and if none
// exists, splices in a new one, advances n's clock, and posts a
// connect_sender message so target splices the same edge into its own
// senders list on its own strand instead of n reaching across and mutating
// target's list directly. It returns the edge's handle and false if target
// was already connected (a no-op), or true if a new edge was created.
func (n *Node) Connect(target *Node) (string, bool, error) {
	if target == nil {
		return "", false, fmt.Errorf("graph: connect requires a non-nil target")
	}

	n.edgeMu.Lock()
	for cur := n.receivers; cur != nil; cur = cur.nextForSender {
		if cur.receiver.Load() == target {
			handle := cur.Handle
			n.edgeMu.Unlock()
			return handle, false, nil
		}
	}
	e := &Edge{Handle: newHandle(), sender: n}
	e.receiver.Store(target)
	e.nextForSender = n.receivers
	n.receivers = e
	n.edgeMu.Unlock()

	registerEdge(e)
	n.Clock.Advance()
	target.Post(message.New(n.Clock.Clone(), n.Addr, target.Addr, message.TypeConnectSender, []byte(e.Handle)))
	return e.Handle, true, nil
}

// spliceSenderEdge adds e to n's senders list (the list of edges where n is
// the receiver) if it is not already present. It is the receiving side of
// the connect_sender protocol message Connect posts.
func (n *Node) spliceSenderEdge(e *Edge) {
	n.edgeMu.Lock()
	defer n.edgeMu.Unlock()
	for cur := n.senders; cur != nil; cur = cur.nextForReceiver {
		if cur == e {
			return
		}
	}
	e.nextForReceiver = n.senders
	n.senders = e
}

// Disconnect removes e from both endpoints' edge lists. It first CASes the
// receiver pointer to nil so any goroutine mid-dispatch across this edge
// observes a severed link rather than racing the list unlink.
func Disconnect(e *Edge) {
	if e == nil {
		return
	}
	receiver := e.receiver.Swap(nil)
	e.sender.removeReceiverEdge(e)
	if receiver != nil {
		receiver.removeSenderEdge(e)
	}
	unregisterEdge(e.Handle)
}

// DisconnectAllSenders removes every incoming edge of n.
func (n *Node) DisconnectAllSenders() {
	n.edgeMu.Lock()
	head := n.senders
	n.senders = nil
	n.edgeMu.Unlock()

	for e := head; e != nil; {
		next := e.nextForReceiver
		e.sender.removeReceiverEdge(e)
		e.receiver.Store(nil)
		unregisterEdge(e.Handle)
		e = next
	}
}

// DisconnectAllReceivers removes every outgoing edge of n.
func (n *Node) DisconnectAllReceivers() {
	n.edgeMu.Lock()
	head := n.receivers
	n.receivers = nil
	n.edgeMu.Unlock()

	for e := head; e != nil; {
		next := e.nextForSender
		if r := e.receiver.Swap(nil); r != nil {
			r.removeSenderEdge(e)
		}
		unregisterEdge(e.Handle)
		e = next
	}
}

// Senders returns the current list of edges where n is the receiver.
func (n *Node) Senders() []*Edge {
	n.edgeMu.Lock()
	defer n.edgeMu.Unlock()
	var out []*Edge
	for e := n.senders; e != nil; e = e.nextForReceiver {
		out = append(out, e)
	}
	return out
}

// Receivers returns the current list of edges where n is the sender.
func (n *Node) Receivers() []*Edge {
	n.edgeMu.Lock()
	defer n.edgeMu.Unlock()
	var out []*Edge
	for e := n.receivers; e != nil; e = e.nextForSender {
		out = append(out, e)
	}
	return out
}

// Broadcast posts m to every node currently downstream of n (n's
// receivers). It advances n's own clock once for the send event, then
// stamps every copy with that same snapshot, matching a single post_message
// call fanning out to multiple receivers.
func (n *Node) Broadcast(typ message.Type, data []byte) {
	n.Clock.Advance()
	snapshot := n.Clock.Clone()
	for _, e := range n.Receivers() {
		r := e.receiver.Load()
		if r == nil {
			continue
		}
		r.Post(message.New(snapshot, n.Addr, r.Addr, typ, data))
	}
}
