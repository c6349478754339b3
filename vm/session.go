package vm

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/purpleidea/ultravm/message"
)

const sessionIdleTimeout = 10 * time.Second

// session is one accepted TCP connection, speaking the length-framed
// request/reply protocol: ping/pong liveness and input_data/output_data
// application exchanges, each frame a varint length prefix over an encoded
// message.Message.
type session struct {
	conn net.Conn
	v    *VM
}

func newSession(conn net.Conn, v *VM) *session {
	return &session{conn: conn, v: v}
}

// sessionTask adapts a session into a task.Task so it can run on the VM's
// network thread pool like any other unit of work.
type sessionTask struct {
	sess *session
}

// Priority satisfies task.Task; network sessions all run at the same
// priority.
func (s sessionTask) Priority() int32 { return 0 }

// Run drives the session until it closes or idles out.
func (s sessionTask) Run() {
	s.sess.serve()
}

func (s *session) serve() {
	defer s.conn.Close()

	r := bufio.NewReader(s.conn)
	var pending []byte

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(sessionIdleTimeout))

		chunk := make([]byte, 4096)
		n, err := r.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
		}
		if err != nil {
			if err != io.EOF {
				s.v.logf("session: read error: %v", err)
			}
			return
		}

		for {
			m, consumed, ok, err := message.ReadFrame(pending, 0)
			if err != nil {
				s.v.logf("session: malformed frame: %v", err)
				return
			}
			if !ok {
				break
			}
			pending = pending[consumed:]
			if !s.handle(m) {
				return
			}
		}
	}
}

// handle processes one decoded message and returns false if the session
// should close.
func (s *session) handle(m *message.Message) bool {
	s.v.Metrics.CountMessage(m.Receiver.String(), m.Type.String())
	switch m.Type {
	case message.TypePing:
		reply := message.New(m.Time, m.Receiver, m.Sender, message.TypePong, nil)
		return s.write(reply)
	case message.TypeInputData:
		reply := message.New(m.Time, m.Receiver, m.Sender, message.TypeOutputData, m.Data)
		if err := s.v.PostMessage(m); err != nil {
			s.v.logf("session: post: %v", err)
		}
		return s.write(reply)
	default:
		return s.write(m)
	}
}

func (s *session) write(m *message.Message) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(sessionIdleTimeout))
	frame := message.WriteFramed(m)
	if _, err := s.conn.Write(frame); err != nil {
		s.v.logf("session: write error: %v", err)
		return false
	}
	return true
}
