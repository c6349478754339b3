// Package clock implements the logical clocks used to order events between
// ultravm nodes: a scalar (Lamport) clock and a fixed-length vector clock.
package clock

import (
	"fmt"
	"strconv"
	"strings"
)

// Clock is the common interface both clock kinds satisfy, used wherever a
// message needs to carry causal ordering without caring which kind it is.
type Clock interface {
	fmt.Stringer
	Advance()
	Encode() string
}

// Scalar is a single monotonically non-decreasing Lamport counter.
type Scalar struct {
	t uint64
}

// NewScalar returns a scalar clock starting at zero.
func NewScalar() *Scalar {
	return &Scalar{}
}

// Advance increments the counter for a local event.
func (obj *Scalar) Advance() {
	obj.t++
}

// Merge sets this clock to the max of itself and other, per Lamport's rule.
func (obj *Scalar) Merge(other *Scalar) {
	if other.t > obj.t {
		obj.t = other.t
	}
}

// Value returns the current counter.
func (obj *Scalar) Value() uint64 {
	return obj.t
}

// Equal reports component-wise equality.
func (obj *Scalar) Equal(other *Scalar) bool {
	return obj.t == other.t
}

// Less reports strict causal ordering.
func (obj *Scalar) Less(other *Scalar) bool {
	return obj.t < other.t
}

// LessEqual reports the non-strict causal order.
func (obj *Scalar) LessEqual(other *Scalar) bool {
	return obj.t <= other.t
}

// String renders the clock for logging.
func (obj *Scalar) String() string {
	return fmt.Sprintf("scalar(%d)", obj.t)
}

// Encode renders the clock as the simple sequence-of-counters wire format.
func (obj *Scalar) Encode() string {
	return strconv.FormatUint(obj.t, 10)
}

// DecodeScalar parses the Encode format back into a Scalar.
func DecodeScalar(s string) (*Scalar, error) {
	t, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("clock: invalid scalar encoding: %w", err)
	}
	return &Scalar{t: t}, nil
}

// Vector is a vector clock of fixed length N, owned by index i.
type Vector struct {
	counters []uint64
	i        int
}

// NewVector returns a zeroed vector clock of length n, owned by index i.
func NewVector(n, i int) *Vector {
	if i < 0 || i >= n {
		panic("clock: owning index out of range")
	}
	return &Vector{counters: make([]uint64, n), i: i}
}

// Advance increments this clock's own entry for a local event.
func (obj *Vector) Advance() {
	obj.counters[obj.i]++
}

// Merge takes the element-wise max of this clock and other, as on message
// receipt.
func (obj *Vector) Merge(other *Vector) {
	for idx := range obj.counters {
		if other.counters[idx] > obj.counters[idx] {
			obj.counters[idx] = other.counters[idx]
		}
	}
}

// Len returns N, the fixed vector length.
func (obj *Vector) Len() int {
	return len(obj.counters)
}

// Clone returns an independent copy of the vector, suitable for stamping an
// outgoing message without aliasing the sender's own live clock: the
// sender's clock keeps advancing after the message is handed off, and a
// receiver merging a shared pointer would observe a moving target instead
// of the value as of the send.
func (obj *Vector) Clone() *Vector {
	counters := append([]uint64(nil), obj.counters...)
	return &Vector{counters: counters, i: obj.i}
}

// At returns the counter at index idx.
func (obj *Vector) At(idx int) uint64 {
	return obj.counters[idx]
}

// Equal reports component-wise equality.
func (obj *Vector) Equal(other *Vector) bool {
	if len(obj.counters) != len(other.counters) {
		return false
	}
	for idx := range obj.counters {
		if obj.counters[idx] != other.counters[idx] {
			return false
		}
	}
	return true
}

// LessEqual reports the partial order: true iff every entry of obj is <= the
// corresponding entry of other.
func (obj *Vector) LessEqual(other *Vector) bool {
	if len(obj.counters) != len(other.counters) {
		return false
	}
	for idx := range obj.counters {
		if obj.counters[idx] > other.counters[idx] {
			return false
		}
	}
	return true
}

// Less reports the strict partial order: LessEqual and not Equal.
func (obj *Vector) Less(other *Vector) bool {
	return obj.LessEqual(other) && !obj.Equal(other)
}

// String renders the clock for logging.
func (obj *Vector) String() string {
	return fmt.Sprintf("vector%v", obj.counters)
}

// Encode renders the clock as a comma-separated sequence of counters.
func (obj *Vector) Encode() string {
	parts := make([]string, len(obj.counters))
	for idx, c := range obj.counters {
		parts[idx] = strconv.FormatUint(c, 10)
	}
	return strings.Join(parts, ",")
}

// DecodeVector parses the Encode format back into a Vector owned by index i.
func DecodeVector(s string, i int) (*Vector, error) {
	fields := strings.Split(s, ",")
	counters := make([]uint64, len(fields))
	for idx, f := range fields {
		c, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("clock: invalid vector encoding at %d: %w", idx, err)
		}
		counters[idx] = c
	}
	if i < 0 || i >= len(counters) {
		return nil, fmt.Errorf("clock: owning index %d out of range for length %d", i, len(counters))
	}
	return &Vector{counters: counters, i: i}, nil
}

var (
	_ Clock = (*Scalar)(nil)
	_ Clock = (*Vector)(nil)
)
