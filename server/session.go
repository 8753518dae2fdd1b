package server

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"time"
)

// noTimeout marks a delivery that must not arm the input deadline. Zero is
// not usable as the sentinel: a remaining thinking time of 0 ms is a real
// deadline that fires immediately.
const noTimeout time.Duration = -1

// sessionOwner receives transport events from a session. The session never
// interprets messages; it only frames, times and reports them.
type sessionOwner interface {
	sessionRead(s *session, message string, elapsed time.Duration)
	sessionTimedOut(s *session)
	sessionStopped(s *session)
	sessionWriteFailed(s *session, err error)
}

type outboundMessage struct {
	text         string
	inputTimeout time.Duration
}

// session is one client connection: a reader, a writer draining a FIFO
// queue, and a deadline watcher. deliver never blocks; the input deadline
// is armed when a message carrying a timeout has been written and cleared
// by the next read.
type session struct {
	id    int
	conn  net.Conn
	owner sessionOwner
	log   *Log

	mu         sync.Mutex
	closed     bool
	lastOutput time.Time // zero until the first successful write
	deadlineAt time.Time // zero while no deadline is armed
	timer      *time.Timer

	outMu    sync.Mutex
	outQueue []outboundMessage
	outWake  chan struct{}

	done chan struct{}
}

func newSession(id int, conn net.Conn, owner sessionOwner, log *Log) *session {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	return &session{
		id:      id,
		conn:    conn,
		owner:   owner,
		log:     log,
		timer:   timer,
		outWake: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// open starts the session's goroutines. The owner must be ready to receive
// events before calling it.
func (s *session) open() {
	go s.writeLoop()
	go s.watchDeadline()
	go s.readLoop()
}

// deliver queues one message for writing. A non-negative inputTimeout arms
// the input deadline once the message is on the wire.
func (s *session) deliver(message string, inputTimeout time.Duration) {
	s.outMu.Lock()
	s.outQueue = append(s.outQueue, outboundMessage{message, inputTimeout})
	s.outMu.Unlock()
	select {
	case s.outWake <- struct{}{}:
	default:
	}
}

// close shuts the connection down and releases the goroutines. It is
// idempotent and never an error to call.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.timer.Stop()
	s.mu.Unlock()

	s.conn.Close()
	close(s.done)
	s.log.Debugf("client %d: session closed", s.id)
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// takeExpiredDeadline reports whether the armed deadline has passed, and
// clears it so the expiry is consumed at most once. A deadline fire is only
// acted on after this check: a read that arrived while the fire was in
// flight has already cleared the deadline and wins.
func (s *session) takeExpiredDeadline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.deadlineAt.IsZero() || time.Now().Before(s.deadlineAt) {
		return false
	}
	s.deadlineAt = time.Time{}
	return true
}

// noteRead records the arrival of a message: measures the time since the
// last output and disarms the input deadline.
func (s *session) noteRead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var elapsed time.Duration
	if !s.lastOutput.IsZero() {
		elapsed = time.Since(s.lastOutput)
	}
	s.deadlineAt = time.Time{}
	s.timer.Stop()
	return elapsed
}

func (s *session) readLoop() {
	reader := bufio.NewReader(s.conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if s.isClosed() {
				return
			}
			// Also the path an orderly peer close takes.
			s.log.Debugf("client %d: session will be stopped (read): %v", s.id, err)
			s.owner.sessionStopped(s)
			s.close()
			return
		}
		message := strings.TrimSuffix(line, "\n")
		elapsed := s.noteRead()
		s.log.Trace(logTargetClient(s.id), logTargetServer, message)
		s.log.Debugf("client %d: elapsed_from_output=%dms, msg_length=%d", s.id, elapsed.Milliseconds(), len(message))
		s.owner.sessionRead(s, message, elapsed)
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.outWake:
		case <-s.done:
			return
		}
		for {
			s.outMu.Lock()
			if len(s.outQueue) == 0 {
				s.outMu.Unlock()
				break
			}
			msg := s.outQueue[0]
			s.outQueue = s.outQueue[1:]
			s.outMu.Unlock()

			if err := s.writeOne(msg); err != nil {
				if s.isClosed() {
					return
				}
				s.owner.sessionWriteFailed(s, err)
				return
			}
		}
	}
}

func (s *session) writeOne(msg outboundMessage) error {
	if _, err := s.conn.Write([]byte(msg.text + "\n")); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastOutput = time.Now()
	if msg.inputTimeout == noTimeout {
		s.deadlineAt = time.Time{}
		s.timer.Stop()
	} else {
		s.deadlineAt = s.lastOutput.Add(msg.inputTimeout)
		s.timer.Reset(msg.inputTimeout)
	}
	s.mu.Unlock()
	s.log.Trace(logTargetServer, logTargetClient(s.id), msg.text)
	return nil
}

func (s *session) watchDeadline() {
	for {
		select {
		case <-s.timer.C:
			s.owner.sessionTimedOut(s)
		case <-s.done:
			return
		}
	}
}
