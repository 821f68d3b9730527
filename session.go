package pylon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftlabs/pylon/transport"
	"github.com/driftlabs/pylon/wire"
)

// SessionState identifies where a session is in its connection lifecycle.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingHello:
		return "AWAITING_HELLO"
	case StateIdentifying:
		return "IDENTIFYING"
	case StateResuming:
		return "RESUMING"
	case StateReady:
		return "READY"
	default:
		return fmt.Sprintf("STATE:%d", int(s))
	}
}

// Control errors that end one connection but not the session's reconnect
// loop.
var (
	errReconnectRequested = errors.New("pylon: server requested reconnect")
	errInvalidSession     = errors.New("pylon: session invalidated")
)

// reconnectDelay spaces connection attempts within a session's retry loop.
const reconnectDelay = 5 * time.Second

// A Session owns one shard's gateway connection: the connect → hello →
// identify/resume → heartbeat → dispatch state machine, and the reconnect
// loop around it. A session keeps its id and sequence number across dirty
// disconnects so the next connection can resume instead of triggering a full
// guild re-sync.
type Session struct {
	shard  int
	total  int
	token  string
	logger *slog.Logger

	dial func(ctx context.Context) (transport.Channel, error)
	push func(*wire.Frame) // forward dispatch frames downstream

	readyOnce sync.Once
	readyCh   chan struct{} // closed on the first successful identify/resume

	mu        sync.Mutex
	state     SessionState
	sessionID string
	seq       int64
	haveSeq   bool
	userID    string
	ch        transport.Channel
	beatAwait bool // a timer heartbeat is awaiting its ack
}

func newSession(shard, total int, token string, logger *slog.Logger,
	dial func(context.Context) (transport.Channel, error), push func(*wire.Frame)) *Session {
	return &Session{
		shard:   shard,
		total:   total,
		token:   token,
		logger:  logger.With("shard", shard),
		dial:    dial,
		push:    push,
		readyCh: make(chan struct{}),
	}
}

// Shard reports the session's shard index.
func (s *Session) Shard() int { return s.shard }

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready returns a channel closed after the session's first successful
// identify or resume. The shard manager blocks the next shard's startup on
// it (with a bounded wait) to respect the gateway's identify rate limit.
func (s *Session) Ready() <-chan struct{} { return s.readyCh }

// run is the session's long-lived service routine: a reconnect loop around
// individual connections. It returns only when ctx ends.
func (s *Session) run(ctx context.Context) error {
	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}
		metrics.reconnects.Add(1)
		s.logger.Warn("gateway connection ended, reconnecting",
			"err", err, "resumable", s.resumable())

		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// connect runs one full connection: dial, hello, identify or resume, then
// the read loop until the connection ends. The returned error says why.
func (s *Session) connect(ctx context.Context) error {
	s.setState(StateConnecting)
	ch, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.setChannel(ch)
	done := make(chan struct{})
	defer func() {
		close(done)
		s.setChannel(nil)
		ch.Close()
	}()

	// Ending the context must unblock a read in progress.
	go func() {
		select {
		case <-ctx.Done():
			ch.Close()
		case <-done:
		}
	}()

	s.setState(StateAwaitingHello)
	hello, err := s.awaitHello(ch)
	if err != nil {
		return err
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond

	// Heartbeats run beside the read loop for the life of this connection.
	go s.heartbeatLoop(ch, interval, done)

	if s.resumable() {
		s.setState(StateResuming)
		metrics.resumes.Add(1)
		err = s.sendResume(ch)
	} else {
		s.setState(StateIdentifying)
		metrics.identifies.Add(1)
		err = s.sendIdentify(ch)
	}
	if err != nil {
		return err
	}

	return s.readLoop(ch)
}

func (s *Session) awaitHello(ch transport.Channel) (*wire.Hello, error) {
	f, err := ch.Recv()
	if err != nil {
		return nil, err
	}
	metrics.framesRecv.Add(1)
	if f.Op != wire.OpHello {
		return nil, fmt.Errorf("pylon: expected HELLO, got %v", f.Op)
	}
	var hello wire.Hello
	if err := json.Unmarshal(f.D, &hello); err != nil {
		return nil, fmt.Errorf("pylon: invalid HELLO payload: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("pylon: invalid heartbeat interval %d", hello.HeartbeatInterval)
	}
	return &hello, nil
}

// readLoop receives frames until the connection ends. Dispatch frames update
// the stored sequence and are always forwarded downstream, including frames
// the session does not specially interpret.
func (s *Session) readLoop(ch transport.Channel) error {
	for {
		f, err := ch.Recv()
		if err != nil {
			return err
		}
		metrics.framesRecv.Add(1)

		switch f.Op {
		case wire.OpDispatch:
			s.noteSeq(f.S)
			if f.T == wire.EventReady {
				s.captureReady(f)
			} else if f.T == wire.EventResumed {
				s.markReady()
			}
			s.push(f)

		case wire.OpHeartbeat:
			// Out-of-band heartbeat request: answer immediately rather than
			// waiting for the next timer tick.
			if err := s.sendHeartbeat(ch, false); err != nil {
				return err
			}

		case wire.OpHeartbeatACK:
			s.mu.Lock()
			s.beatAwait = false
			s.mu.Unlock()

		case wire.OpReconnect:
			// Keep session id and sequence: the next attempt resumes.
			return errReconnectRequested

		case wire.OpInvalidSession:
			var resumable wire.InvalidSession
			if len(f.D) > 0 {
				json.Unmarshal(f.D, &resumable)
			}
			if !resumable {
				s.clearSession()
			}
			// The socket must die hard, not close cleanly: a clean close
			// would end the session server-side as well.
			transport.Kill(ch)
			return errInvalidSession

		default:
			s.logger.Debug("unhandled gateway opcode", "op", f.Op)
		}
	}
}

// heartbeatLoop sends keepalives at the negotiated interval until the
// connection ends. A tick that finds the previous timer beat still
// unacknowledged kills the connection so the session reconnects and resumes,
// instead of waiting for the server to notice the dead link.
func (s *Session) heartbeatLoop(ch transport.Channel, interval time.Duration, done <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.mu.Lock()
			missed := s.beatAwait
			s.mu.Unlock()
			if missed {
				metrics.heartbeatMiss.Add(1)
				s.logger.Warn("heartbeat ack missed, recycling connection")
				transport.Kill(ch)
				return
			}
			if err := s.sendHeartbeat(ch, true); err != nil {
				return
			}
		}
	}
}

func (s *Session) sendHeartbeat(ch transport.Channel, fromTimer bool) error {
	s.mu.Lock()
	hb := wire.Heartbeat{}
	if s.haveSeq {
		seq := s.seq
		hb.Seq = &seq
	}
	if fromTimer {
		s.beatAwait = true
	}
	s.mu.Unlock()

	metrics.heartbeats.Add(1)
	return s.send(ch, wire.OpHeartbeat, hb)
}

func (s *Session) sendIdentify(ch transport.Channel) error {
	id := wire.Identify{
		Token: s.token,
		Properties: wire.IdentifyProperties{
			OS:      "linux",
			Browser: "pylon",
			Device:  "pylon",
		},
		Compress: true,
	}
	if s.total > 1 {
		id.Shard = []int{s.shard, s.total}
	}
	return s.send(ch, wire.OpIdentify, id)
}

func (s *Session) sendResume(ch transport.Channel) error {
	s.mu.Lock()
	r := wire.Resume{Token: s.token, SessionID: s.sessionID, Seq: s.seq}
	s.mu.Unlock()
	return s.send(ch, wire.OpResume, r)
}

func (s *Session) send(ch transport.Channel, op wire.Op, payload any) error {
	d, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pylon: encoding %v payload: %w", op, err)
	}
	metrics.framesSent.Add(1)
	return ch.Send(&wire.Frame{Op: op, D: d})
}

// SetStatus updates the session's presence on its connection.
func (s *Session) SetStatus(status wire.StatusUpdate) error {
	ch := s.channel()
	if ch == nil {
		return errors.New("pylon: session not connected")
	}
	return s.send(ch, wire.OpStatusUpdate, status)
}

// RequestGuildMembers asks the gateway to stream member chunks for a guild
// this shard serves. Results arrive as GUILD_MEMBERS_CHUNK dispatches and
// are applied to the cache like any other event.
func (s *Session) RequestGuildMembers(guildID, query string, limit int) error {
	ch := s.channel()
	if ch == nil {
		return errors.New("pylon: session not connected")
	}
	return s.send(ch, wire.OpRequestGuildMembers, wire.RequestGuildMembers{
		GuildID: guildID, Query: query, Limit: limit,
	})
}

// captureReady records the session identity granted by a READY dispatch and
// marks the session ready. The full payload still flows to the cache via the
// regular buffer path, so the bulk load never blocks the read loop.
func (s *Session) captureReady(f *wire.Frame) {
	var r wire.Ready
	if err := json.Unmarshal(f.D, &r); err != nil {
		s.logger.Warn("invalid READY payload", "err", err)
		return
	}
	s.mu.Lock()
	s.sessionID = r.SessionID
	s.userID = r.User.ID
	s.mu.Unlock()
	s.markReady()
}

func (s *Session) markReady() {
	s.setState(StateReady)
	s.readyOnce.Do(func() { close(s.readyCh) })
}

func (s *Session) noteSeq(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = seq
	s.haveSeq = true
}

func (s *Session) resumable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != ""
}

// clearSession forgets the session identity, forcing the next connection to
// identify from scratch.
func (s *Session) clearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
	s.seq = 0
	s.haveSeq = false
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	if st == StateDisconnected || st == StateConnecting {
		s.beatAwait = false
	}
}

func (s *Session) setChannel(ch transport.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch = ch
}

func (s *Session) channel() transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}
