// Package gateway runs the persistent gateway connection: it identifies or
// resumes, keeps the heartbeat, decodes inbound frames in receipt order and
// throttles outbound control frames.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/guildwire/guildwire/internal/constants"
	"github.com/guildwire/guildwire/internal/events"
	"github.com/guildwire/guildwire/internal/http"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
)

var (
	ErrZombieConnection = errors.New("heartbeat not acknowledged")
	ErrUnexpectedHello  = errors.New("first frame was not hello")
	ErrAlreadyRunning   = errors.New("session already running")

	errReconnectRequested = errors.New("server requested reconnect")
	errInvalidSession     = errors.New("session invalidated")
)

// Handler receives every dispatch event in receipt order.
type Handler interface {
	HandleDispatch(eventType string, data json.RawMessage)
}

// Options configures a Session.
type Options struct {
	URL            string
	Token          string
	Intents        int64
	Compress       bool
	LargeThreshold int

	Dialer  Dialer
	Handler Handler

	// SendLimiter throttles every outbound frame except heartbeats.
	SendLimiter *rate.Limiter

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	InvalidSessionWait    time.Duration

	Bus    *events.EventBus
	Logger *logging.Logger
}

// Session is one gateway session, kept alive across reconnects.
type Session struct {
	opts   Options
	logger *logging.Logger

	// outbox is the FIFO of rate-limited control frames. It is unbounded so
	// member and sync requests are never dropped; wake signals the writer.
	outMu  sync.Mutex
	outbox [][]byte
	wake   chan struct{}

	tasks chan func()
	done  chan struct{}

	// carry holds a rate-limited frame that could not be written before its
	// connection ended. Only the writer goroutine touches it.
	carry []byte

	mu        sync.Mutex
	running   bool
	sessionID string
	resumeURL string
	seq       int64
}

// NewSession creates a session. Run connects it.
func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.SendLimiter == nil {
		opts.SendLimiter = rate.NewLimiter(rate.Every(constants.GatewaySendWindow/constants.GatewaySendBudget), 1)
	}
	if opts.ReconnectInitialDelay <= 0 {
		opts.ReconnectInitialDelay = constants.GatewayReconnectInitialDelay
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = constants.GatewayReconnectMaxDelay
	}
	if opts.InvalidSessionWait <= 0 {
		opts.InvalidSessionWait = constants.GatewayInvalidSessionWait
	}
	if opts.LargeThreshold < constants.MinLargeThreshold || opts.LargeThreshold > constants.MaxLargeThreshold {
		opts.LargeThreshold = constants.DefaultLargeThreshold
	}
	return &Session{
		opts:   opts,
		logger: opts.Logger.Component("gateway"),
		wake:   make(chan struct{}, 1),
		tasks:  make(chan func(), 256),
		done:   make(chan struct{}),
	}
}

// SetHandler installs the dispatch handler. Call before Run.
func (s *Session) SetHandler(h Handler) {
	s.opts.Handler = h
}

// SetURL sets the gateway URL used for new sessions. Call before Run.
func (s *Session) SetURL(url string) {
	s.opts.URL = url
}

// SessionID returns the id of the current session, empty before READY.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Sequence returns the last dispatch sequence number received.
func (s *Session) Sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Post runs fn on the event goroutine, after the events already received.
// It returns without running fn once the session has stopped.
func (s *Session) Post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// RequestGuildMembers asks for every member of a guild (op 8).
func (s *Session) RequestGuildMembers(guildID models.Snowflake) error {
	return s.enqueue(OpRequestGuildMembers, models.RequestGuildMembers{GuildID: guildID, Query: "", Limit: 0})
}

// RequestGuildSync asks for presence and member sync of guilds (op 12).
func (s *Session) RequestGuildSync(guildIDs ...models.Snowflake) error {
	return s.enqueue(OpGuildSync, guildIDs)
}

func (s *Session) enqueue(op int, d interface{}) error {
	data, err := encodeFrame(op, d)
	if err != nil {
		return err
	}
	s.outMu.Lock()
	s.outbox = append(s.outbox, data)
	s.outMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// dequeue pops the oldest queued control frame.
func (s *Session) dequeue() ([]byte, bool) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if len(s.outbox) == 0 {
		return nil, false
	}
	data := s.outbox[0]
	s.outbox[0] = nil
	s.outbox = s.outbox[1:]
	return data, true
}

// Pending returns the number of control frames waiting to be written.
func (s *Session) Pending() int {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return len(s.outbox)
}

// Run connects and keeps the session alive until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.done)

	attempt := 0
	for {
		s.publish(events.StateConnecting, attempt, nil)
		established, err := s.connect(ctx)
		if ctx.Err() != nil {
			s.publish(events.StateClosed, attempt, nil)
			s.logger.Info().Msg("gateway session closed")
			return ctx.Err()
		}
		if established {
			attempt = 0
		}
		attempt++

		var delay time.Duration
		switch {
		case errors.Is(err, errReconnectRequested):
			delay = 0
		case errors.Is(err, errInvalidSession):
			delay = s.opts.InvalidSessionWait
		default:
			delay = http.CalculateBackoff(attempt, s.opts.ReconnectInitialDelay, s.opts.ReconnectMaxDelay)
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("gateway connection lost, reconnecting")
		s.publish(events.StateReconnecting, attempt, err)

		if err := s.sleep(ctx, delay); err != nil {
			s.publish(events.StateClosed, attempt, nil)
			return err
		}
	}
}

// sleep waits for d while still running posted tasks.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.tasks:
			fn()
		case <-timer.C:
			return nil
		}
	}
}

func (s *Session) resumable() (sessionID string, seq int64, resumeURL string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID, s.seq, s.resumeURL, s.sessionID != ""
}

func (s *Session) clearSession() {
	s.mu.Lock()
	s.sessionID, s.resumeURL, s.seq = "", "", 0
	s.mu.Unlock()
}

// connect runs one connection until it fails. established reports whether
// the connection got as far as READY or RESUMED.
func (s *Session) connect(ctx context.Context) (established bool, err error) {
	sessionID, seq, resumeURL, resume := s.resumable()
	base := s.opts.URL
	if resume && resumeURL != "" {
		base = resumeURL
	}
	target, err := gatewayURL(base)
	if err != nil {
		return false, err
	}

	conn, err := s.opts.Dialer(ctx, target)
	if err != nil {
		return false, err
	}

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		conn.Close()
		wg.Wait()
	}()

	interval, err := s.readHello(conn)
	if err != nil {
		return false, err
	}

	if resume {
		s.publish(events.StateResuming, 0, nil)
		err = s.writeLimited(connCtx, conn, OpResume, models.Resume{Token: s.opts.Token, SessionID: sessionID, Seq: seq})
	} else {
		s.publish(events.StateIdentifying, 0, nil)
		err = s.writeLimited(connCtx, conn, OpIdentify, s.identify())
	}
	if err != nil {
		return false, err
	}
	s.logger.Debug().Bool("resume", resume).Dur("heartbeat_interval", interval).Msg("handshake sent")

	frames := make(chan *models.GatewayPayload, 64)
	readErr := make(chan error, 1)
	priority := make(chan []byte, 4)
	writeErr := make(chan error, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(connCtx, conn, frames, readErr)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(connCtx, conn, priority, writeErr)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	acked := true

	for {
		select {
		case <-connCtx.Done():
			return established, connCtx.Err()
		case err := <-readErr:
			return established, err
		case err := <-writeErr:
			return established, err
		case fn := <-s.tasks:
			fn()
		case <-ticker.C:
			if !acked {
				return established, ErrZombieConnection
			}
			acked = false
			s.heartbeat(priority)
		case p := <-frames:
			switch p.Op {
			case OpDispatch:
				if s.dispatch(p) {
					if !established {
						s.publish(events.StateConnected, 0, nil)
					}
					established = true
				}
			case OpHeartbeat:
				s.heartbeat(priority)
			case OpHeartbeatAck:
				acked = true
			case OpReconnect:
				return established, errReconnectRequested
			case OpInvalidSession:
				var canResume bool
				_ = json.Unmarshal(p.D, &canResume)
				if !canResume {
					s.clearSession()
				}
				return established, errInvalidSession
			default:
				s.logger.Debug().Int("op", p.Op).Msg("ignoring frame")
			}
		}
	}
}

func (s *Session) readHello(conn Conn) (time.Duration, error) {
	data, err := conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("failed to read hello: %w", err)
	}
	p, err := decodeFrame(data)
	if err != nil {
		return 0, err
	}
	if p.Op != OpHello {
		return 0, fmt.Errorf("%w: op %d", ErrUnexpectedHello, p.Op)
	}
	var hello models.Hello
	if err := json.Unmarshal(p.D, &hello); err != nil {
		return 0, fmt.Errorf("failed to decode hello: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("invalid heartbeat interval %d", hello.HeartbeatInterval)
	}
	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

func (s *Session) identify() models.Identify {
	return models.Identify{
		Token: s.opts.Token,
		Properties: models.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "guildwire",
			Device:  "guildwire",
		},
		Compress:       s.opts.Compress,
		LargeThreshold: s.opts.LargeThreshold,
		Intents:        s.opts.Intents,
	}
}

func (s *Session) writeLimited(ctx context.Context, conn Conn, op int, d interface{}) error {
	data, err := encodeFrame(op, d)
	if err != nil {
		return err
	}
	if err := s.opts.SendLimiter.Wait(ctx); err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

func (s *Session) heartbeat(priority chan<- []byte) {
	s.mu.Lock()
	var d interface{}
	if s.seq > 0 {
		d = s.seq
	}
	s.mu.Unlock()

	data, err := encodeFrame(OpHeartbeat, d)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode heartbeat")
		return
	}
	select {
	case priority <- data:
	default:
		s.logger.Warn().Msg("heartbeat queue full")
	}
}

// dispatch records the sequence, tracks session state and hands the event to
// the handler. It reports whether the event completed the handshake.
func (s *Session) dispatch(p *models.GatewayPayload) bool {
	if p.S != nil {
		s.mu.Lock()
		s.seq = *p.S
		s.mu.Unlock()
	}

	handshake := false
	switch p.T {
	case "READY":
		var ready models.Ready
		if err := json.Unmarshal(p.D, &ready); err != nil {
			s.logger.Error().Err(err).Msg("failed to decode READY")
			break
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.mu.Unlock()
		s.logger.Info().
			Str("session_id", ready.SessionID).
			Str("user", ready.User.Username).
			Int("guilds", len(ready.Guilds)).
			Msg("gateway ready")
		handshake = true
	case "RESUMED":
		s.logger.Info().Int64("seq", s.Sequence()).Msg("gateway session resumed")
		handshake = true
	}

	if s.opts.Handler != nil {
		s.opts.Handler.HandleDispatch(p.T, p.D)
	}
	return handshake
}

func (s *Session) readLoop(ctx context.Context, conn Conn, frames chan<- *models.GatewayPayload, errc chan<- error) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			errc <- fmt.Errorf("gateway read failed: %w", err)
			return
		}
		p, err := decodeFrame(data)
		if err != nil {
			s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping undecodable frame")
			continue
		}
		select {
		case frames <- p:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, conn Conn, priority <-chan []byte, errc chan<- error) {
	write := func(data []byte) bool {
		if err := conn.WriteMessage(data); err != nil {
			errc <- fmt.Errorf("gateway write failed: %w", err)
			return false
		}
		return true
	}

	for {
		// Heartbeats go first.
		select {
		case <-ctx.Done():
			return
		case data := <-priority:
			if !write(data) {
				return
			}
			continue
		default:
		}

		if s.carry == nil {
			data, ok := s.dequeue()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case data := <-priority:
					if !write(data) {
						return
					}
				case <-s.wake:
				}
				continue
			}
			s.carry = data
		}

		if err := s.opts.SendLimiter.Wait(ctx); err != nil {
			return
		}
		if !write(s.carry) {
			return
		}
		s.carry = nil
	}
}

func (s *Session) publish(state events.ConnectionState, attempt int, err error) {
	if s.opts.Bus != nil {
		s.opts.Bus.PublishConnection(state, attempt, err)
	}
}
