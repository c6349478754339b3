// Package graph implements the addressable node/edge fabric: nodes identify
// themselves by message.Address, connect to each other over directed edges,
// and serialize their own message handling on a per-node "strand" goroutine,
// the same shape as mgmt's per-vertex event loop.
package graph

import (
	"log"
	"sync"

	"github.com/purpleidea/ultravm/clock"
	"github.com/purpleidea/ultravm/message"
)

// Handler processes one message delivered to a Node. It runs on the node's
// strand, so it never races with another invocation for the same node.
type Handler func(n *Node, m *message.Message)

// Node is an addressable fabric participant. Senders and receivers are
// tracked as two independent singly-linked edge lists so disconnecting one
// side never requires walking the other.
type Node struct {
	Addr  message.Address
	Clock *clock.Vector
	Logf  func(format string, v ...interface{})

	handler Handler

	// Resolve looks up a peer Node by address so the connect/disconnect
	// protocol can turn an address in a message into an *Edge. It is
	// normally wired to a vm.VM's registry lookup.
	Resolve func(message.Address) *Node

	edgeMu    sync.Mutex
	senders   *Edge // head of the list of edges where this node is the receiver
	receivers *Edge // head of the list of edges where this node is the sender

	strand    chan *message.Message
	strandWG  sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a Node at addr with n cluster members for its vector clock,
// owned at index owner, and starts its strand goroutine.
func New(addr message.Address, n, owner int, handler Handler) *Node {
	if handler == nil {
		handler = func(*Node, *message.Message) {}
	}
	node := &Node{
		Addr:    addr,
		Clock:   clock.NewVector(n, owner),
		handler: handler,
		strand:  make(chan *message.Message, 64),
		done:    make(chan struct{}),
		Logf:    func(format string, v ...interface{}) { log.Printf("node(%s): "+format, append([]interface{}{addr}, v...)...) },
	}
	node.strandWG.Add(1)
	go node.run()
	return node
}

func (n *Node) run() {
	defer n.strandWG.Done()
	for {
		select {
		case m := <-n.strand:
			n.dispatch(m)
		case <-n.done:
			// drain what's already queued, then exit.
			for {
				select {
				case m := <-n.strand:
					n.dispatch(m)
				default:
					return
				}
			}
		}
	}
}

func (n *Node) dispatch(m *message.Message) {
	n.Clock.Merge(m.Time)
	n.Clock.Advance()
	switch m.Type {
	case message.TypeConnectSender:
		// m.Data carries the handle Connect minted for the edge already
		// spliced into the sender's receivers list; splice the same edge
		// into our senders list rather than minting a second one.
		if e := lookupEdge(string(m.Data)); e != nil {
			n.spliceSenderEdge(e)
		} else if n.Resolve != nil {
			if peer := n.Resolve(m.Sender); peer != nil {
				e := &Edge{Handle: string(m.Data), sender: peer}
				e.receiver.Store(n)
				n.spliceSenderEdge(e)
			}
		}
	case message.TypeDisconnectSender:
		if e := n.FindSenderEdge(m.Sender); e != nil {
			Disconnect(e)
		}
	case message.TypeDisconnectReceiver:
		if e := n.FindReceiverEdge(m.Receiver); e != nil {
			Disconnect(e)
		}
	default:
		n.handler(n, m)
	}
}

// Post enqueues m for processing on this node's strand. It never blocks the
// caller on the handler itself.
func (n *Node) Post(m *message.Message) {
	select {
	case n.strand <- m:
	case <-n.done:
	}
}

// Close stops the node's strand after draining queued messages. Idempotent.
func (n *Node) Close() {
	n.closeOnce.Do(func() { close(n.done) })
	n.strandWG.Wait()
}
