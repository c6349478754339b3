// Package message defines the envelope passed between ultravm nodes and its
// length-delimited wire encoding.
package message

import (
	"fmt"

	"github.com/purpleidea/ultravm/clock"
)

// Address identifies a node within the cluster by a cluster/space/field/node
// quadruple, matched component-wise.
type Address struct {
	Cluster int32
	Space   int32
	Field   int32
	Node    int32
}

// String renders the address in dotted form for logging.
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.Cluster, a.Space, a.Field, a.Node)
}

// Equal reports component-wise equality.
func (a Address) Equal(other Address) bool {
	return a == other
}

// Hash combines the four components into a single key suitable for a map,
// without requiring Address itself to be comparable-free of padding quirks.
func (a Address) Hash() uint64 {
	h := uint64(1469598103934665603) // FNV offset basis
	for _, v := range [4]int32{a.Cluster, a.Space, a.Field, a.Node} {
		h ^= uint64(uint32(v))
		h *= 1099511628211 // FNV prime
	}
	return h
}

// Type enumerates the kinds of payload a Message can carry.
type Type int32

const (
	// TypePortData carries application bytes written to a Port.
	TypePortData Type = iota
	// TypeConnectSender requests that the receiver add the sender as one
	// of its senders.
	TypeConnectSender
	// TypeConnectReceiver requests that the sender add the receiver as
	// one of its receivers.
	TypeConnectReceiver
	// TypeDisconnectSender requests removal of a sender edge.
	TypeDisconnectSender
	// TypeDisconnectReceiver requests removal of a receiver edge.
	TypeDisconnectReceiver
	// TypePing is a liveness probe exchanged over a network session.
	TypePing
	// TypePong answers TypePing.
	TypePong
	// TypeInputData is client-supplied data on a network session.
	TypeInputData
	// TypeOutputData is server-produced data on a network session.
	TypeOutputData
)

// String names the type for logging.
func (t Type) String() string {
	switch t {
	case TypePortData:
		return "port_data"
	case TypeConnectSender:
		return "connect_sender"
	case TypeConnectReceiver:
		return "connect_receiver"
	case TypeDisconnectSender:
		return "disconnect_sender"
	case TypeDisconnectReceiver:
		return "disconnect_receiver"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeInputData:
		return "input_data"
	case TypeOutputData:
		return "output_data"
	default:
		return "unknown"
	}
}

// Message is the value passed between nodes: a causal timestamp, the two
// endpoints, a type tag, and an opaque payload.
type Message struct {
	Time     *clock.Vector
	Sender   Address
	Receiver Address
	Type     Type
	Data     []byte
}

// New constructs a Message, cloning none of its arguments; callers own Time
// and Data after the call returns.
func New(t *clock.Vector, sender, receiver Address, typ Type, data []byte) *Message {
	return &Message{Time: t, Sender: sender, Receiver: receiver, Type: typ, Data: data}
}

// IsConnectProtocol reports whether this message is part of the
// connect/disconnect edge-management protocol rather than ordinary port
// traffic.
func (m *Message) IsConnectProtocol() bool {
	switch m.Type {
	case TypeConnectSender, TypeConnectReceiver, TypeDisconnectSender, TypeDisconnectReceiver:
		return true
	default:
		return false
	}
}
