package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/miwitv/backend/telemetry"
	"github.com/miwitv/backend/twitchapi"
)

const (
	// DefaultPollInterval is the wait between successful polls.
	DefaultPollInterval = 30 * time.Second
	// DefaultRefreshTicks is the number of polls between scheduled credential refreshes.
	DefaultRefreshTicks = 60

	authFailedMessage = "Failed to authenticate with Twitch"
)

// ErrClientGone reports that the client disconnected or a write to it failed.
var ErrClientGone = errors.New("relay: client gone")

// CredentialProvider issues the app bearer token used for Helix calls.
type CredentialProvider interface {
	Refresh(ctx context.Context) (string, error)
}

// StatusClient queries the live stream for a channel. Failures are reported
// in the result, never as a Go error.
type StatusClient interface {
	GetStream(ctx context.Context, login, token string) twitchapi.StreamStatus
}

// Options tunes a Session. Zero values fall back to the defaults.
type Options struct {
	PollInterval time.Duration
	RefreshTicks int
	Clock        Clock
	Logger       *slog.Logger
}

// Session serves one client connection for one channel key.
// All fields below the collaborators are owned by the goroutine running Run.
type Session struct {
	ID  string
	key string

	conn     Conn
	registry *Registry
	creds    CredentialProvider
	status   StatusClient
	clock    Clock
	interval time.Duration
	every    int
	log      *slog.Logger

	credential        string
	previous          Status
	ticksSinceRefresh int
	consecutiveErrors int
}

// NewSession builds a session for key. It does not touch the registry or
// the connection until Run is called.
func NewSession(key string, conn Conn, reg *Registry, creds CredentialProvider, status StatusClient, opts Options) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		key:      key,
		conn:     conn,
		registry: reg,
		creds:    creds,
		status:   status,
		clock:    opts.Clock,
		interval: opts.PollInterval,
		every:    opts.RefreshTicks,
		previous: StatusUnknown,
	}
	if s.clock == nil {
		s.clock = SystemClock()
	}
	if s.interval <= 0 {
		s.interval = DefaultPollInterval
	}
	if s.every <= 0 {
		s.every = DefaultRefreshTicks
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s.log = logger.With(slog.String("component", "relay"), slog.String("channel", key), slog.String("session", s.ID))
	return s
}

// Key returns the channel key the session is registered under.
func (s *Session) Key() string { return s.key }

// Run drives the session until the client goes away, a write fails or ctx is
// cancelled. The returned error names the terminal reason and is meant for
// logging only. The connection is always closed when Run returns.
func (s *Session) Run(ctx context.Context) (err error) {
	tok, err := s.creds.Refresh(ctx)
	telemetry.ObserveCredential("initial", err == nil)
	if err != nil {
		s.log.Warn("relay: initial credential failed", slog.Any("err", err))
		if werr := s.conn.WriteJSON(newErrorMessage(authFailedMessage)); werr != nil {
			s.log.Debug("relay: error payload not delivered", slog.Any("err", werr))
		}
		if cerr := s.conn.Close(websocket.CloseInternalServerErr, "twitch authentication failed"); cerr != nil {
			s.log.Debug("relay: close failed", slog.Any("err", cerr))
		}
		return err
	}
	s.credential = tok

	if prev := s.registry.Register(s.key, s); prev != nil {
		s.log.Info("relay: replaced registry entry", slog.String("previous_session", prev.ID))
	}
	telemetry.SessionStarted()
	s.log.Info("relay: session started")

	defer func() { s.release(err) }()
	return s.loop(ctx)
}

func (s *Session) loop(ctx context.Context) error {
	for {
		delay, failed, err := s.tick(ctx)
		if err != nil {
			return err
		}
		if err := s.wait(ctx, delay); err != nil {
			return err
		}
		if failed {
			if err := s.send(newHeartbeat()); err != nil {
				return err
			}
			telemetry.ObserveHeartbeat()
		}
	}
}

// tick runs one poll and returns how long to wait before the next one and
// whether the poll failed. A non-nil error ends the session.
func (s *Session) tick(ctx context.Context) (time.Duration, bool, error) {
	s.ticksSinceRefresh++
	if s.ticksSinceRefresh >= s.every {
		if s.refresh(ctx, "scheduled") {
			s.ticksSinceRefresh = 0
		}
	}

	var st twitchapi.StreamStatus
	telemetry.TimeFunc(telemetry.RelayPollDuration, func() {
		st = s.status.GetStream(ctx, s.key, s.credential)
	})
	telemetry.ObservePoll(st.Kind.String())
	if err := context.Cause(ctx); err != nil {
		return 0, false, err
	}

	if st.OK() {
		s.consecutiveErrors = 0
		current := StatusOffline
		if st.Kind == twitchapi.StreamLive {
			current = StatusOnline
		}
		if current != s.previous {
			if err := s.send(newStatusMessage(current, st.Raw)); err != nil {
				return 0, false, err
			}
			s.log.Info("relay: status changed", slog.String("from", s.previous.String()), slog.String("to", current.String()))
			s.previous = current
			telemetry.ObserveStatusChange()
		}
		return s.interval, false, nil
	}

	s.consecutiveErrors++
	delay := BackoffDelay(s.consecutiveErrors)
	s.log.Warn("relay: poll failed",
		slog.String("reason", st.Reason),
		slog.Any("err", st.Err),
		slog.Int("consecutive_errors", s.consecutiveErrors),
		slog.Duration("backoff", delay))
	if s.consecutiveErrors >= ErrorThreshold {
		s.refresh(ctx, "errors")
		s.consecutiveErrors = 0
	}
	telemetry.ObserveBackoff(delay.Seconds())
	return delay, true, nil
}

// refresh replaces the credential on success and keeps the old one otherwise.
func (s *Session) refresh(ctx context.Context, trigger string) bool {
	tok, err := s.creds.Refresh(ctx)
	telemetry.ObserveCredential(trigger, err == nil)
	if err != nil {
		s.log.Warn("relay: credential refresh failed", slog.String("trigger", trigger), slog.Any("err", err))
		return false
	}
	s.credential = tok
	s.log.Debug("relay: credential refreshed", slog.String("trigger", trigger))
	return true
}

func (s *Session) wait(ctx context.Context, d time.Duration) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-s.clock.After(d):
		return nil
	}
}

func (s *Session) send(v any) error {
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	return nil
}

func (s *Session) release(reason error) {
	s.registry.Deregister(s.key, s)
	telemetry.SessionEnded()

	code := websocket.CloseNormalClosure
	if !errors.Is(reason, ErrClientGone) {
		code = websocket.CloseGoingAway
	}
	if err := s.conn.Close(code, ""); err != nil {
		s.log.Debug("relay: close failed", slog.Any("err", err))
	}
	s.log.Info("relay: session ended", slog.Any("reason", reason))
}
