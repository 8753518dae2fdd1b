package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type eventKind int

const (
	eventSessionStart eventKind = iota
	eventSessionRead
	eventSessionTimeout
	eventSessionStop
)

type event struct {
	kind    eventKind
	session *session
	message string
	elapsed time.Duration
}

// Server owns the two listeners, the two client sessions and the game. The
// sessions report through an event channel that the Run loop drains, so all
// game callbacks run on one goroutine and the game needs no locking.
type Server struct {
	log  *Log
	game *Game

	mu        sync.Mutex
	shutdown  bool
	listeners [2]net.Listener
	sessions  [2]*session

	events chan event
	quit   chan struct{}
	once   sync.Once
}

// NewServer binds both team ports and prepares the game. Nothing is
// accepted until Run is called.
func NewServer(config *Config, dateTime, gameID string, log *Log) (*Server, error) {
	s := &Server{
		log:    log,
		events: make(chan event),
		quit:   make(chan struct{}),
	}
	s.game = NewGame(s, config, dateTime, gameID, log)

	for i := range s.listeners {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Server.Port[i]))
		if err != nil {
			for _, bound := range s.listeners {
				if bound != nil {
					bound.Close()
				}
			}
			return nil, errors.Wrapf(err, "listen for team %d", i)
		}
		s.listeners[i] = ln
	}
	return s, nil
}

// Run accepts one client per port and processes session events until the
// server is stopped or, after a finished game, both clients have
// disconnected. Call it once.
func (s *Server) Run() {
	for i := range s.listeners {
		go s.acceptOne(i)
	}

	var stopped [2]bool
	for {
		select {
		case ev := <-s.events:
			id := ev.session.id
			switch ev.kind {
			case eventSessionStart:
				s.report(s.game.OnSessionStart(id))
			case eventSessionRead:
				s.report(s.game.OnSessionRead(id, ev.message, ev.elapsed))
			case eventSessionTimeout:
				// Only act on a fire that beat the next read.
				if ev.session.takeExpiredDeadline() {
					s.report(s.game.OnSessionTimeout(id))
				}
			case eventSessionStop:
				s.clearSession(id)
				stopped[id] = true
				s.report(s.game.OnSessionStop(id))
				if stopped[0] && stopped[1] {
					return
				}
			}
		case <-s.quit:
			return
		}
	}
}

// Stop closes the listeners and both sessions. Idempotent; safe from any
// goroutine.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.quit)

		s.mu.Lock()
		s.shutdown = true
		listeners := s.listeners
		sessions := s.sessions
		s.sessions = [2]*session{}
		s.mu.Unlock()

		for _, ln := range listeners {
			if ln != nil {
				ln.Close()
			}
		}
		for _, sess := range sessions {
			if sess != nil {
				sess.close()
			}
		}
		s.log.Debug("server stopped")
	})
}

// HandleError is the fail-stop path: log the error, stop everything.
func (s *Server) HandleError(err error) {
	s.log.Error(err.Error())
	s.Stop()
}

// DeliverMessage queues one message for a client. inputTimeout arms the
// client's input deadline once the message is written; pass noTimeout for
// none. Delivering to a missing or closed session is an error.
func (s *Server) DeliverMessage(clientID int, message string, inputTimeout time.Duration) error {
	s.mu.Lock()
	sess := s.sessions[clientID]
	s.mu.Unlock()
	if sess == nil || sess.isClosed() {
		return errors.Errorf("client %d deliver message failed", clientID)
	}
	sess.deliver(message, inputTimeout)
	return nil
}

// acceptOne serves the first connection on a team's port. The accept is
// not re-armed: a later client connecting to the same port stays in the
// listen backlog and is never served.
func (s *Server) acceptOne(team int) {
	conn, err := s.listeners[team].Accept()
	if err != nil {
		return
	}

	sess := newSession(team, conn, s, s.log)
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[team] = sess
	s.mu.Unlock()

	// The start event is posted before the reader exists, so the game
	// always sees the session before its first message.
	s.post(event{kind: eventSessionStart, session: sess})
	sess.open()
}

func (s *Server) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Server) report(err error) {
	if err != nil {
		s.HandleError(err)
	}
}

func (s *Server) clearSession(id int) {
	s.mu.Lock()
	s.sessions[id] = nil
	s.mu.Unlock()
}

func (s *Server) sessionRead(sess *session, message string, elapsed time.Duration) {
	s.post(event{kind: eventSessionRead, session: sess, message: message, elapsed: elapsed})
}

func (s *Server) sessionTimedOut(sess *session) {
	s.post(event{kind: eventSessionTimeout, session: sess})
}

func (s *Server) sessionStopped(sess *session) {
	s.post(event{kind: eventSessionStop, session: sess})
}

func (s *Server) sessionWriteFailed(sess *session, err error) {
	s.log.Errorf("client %d: write failed: %v", sess.id, err)
	s.Stop()
}
