package whip

import (
	"XPusher/internal/logger"
	"XPusher/internal/utils"
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultGatherTimeout  = 5 * time.Second
	defaultRepostCooldown = 5 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Config tunes the negotiation and recovery policy.
type Config struct {
	// GatherTimeout bounds the wait for ICE candidate gathering.
	GatherTimeout time.Duration
	// RepostCooldown is the minimum time between two full re-negotiations.
	RepostCooldown time.Duration
	// MaxReposts caps full re-negotiations per session. 0 means unlimited.
	MaxReposts int
	// RequestTimeout bounds signaling requests issued outside of Start.
	RequestTimeout time.Duration
	// TrickleRestart enables the PATCH based in-place ICE restart.
	TrickleRestart bool
}

func (c Config) withDefaults() Config {
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = defaultGatherTimeout
	}
	if c.RepostCooldown <= 0 {
		c.RepostCooldown = defaultRepostCooldown
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Publisher runs at most one publish attempt at a time.
type Publisher struct {
	Conf         Config
	Signaling    *SignalingClient
	NewTransport func() (Transport, error)
	Unload       *UnloadHooks
	Parent       logger.Writer
	Now          func() time.Time

	mutex   sync.Mutex
	current *attempt
}

// Log implements logger.Writer.
func (p *Publisher) Log(level logger.Level, format string, args ...interface{}) {
	p.Parent.Log(level, format, args...)
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Start stops any running attempt, then captures media and establishes a new session.
// On failure every acquired resource is released and a *PublishError is returned.
func (p *Publisher) Start(ctx context.Context, endpoint string, capture Capture) (SessionInfo, error) {
	p.Stop()

	a := p.newAttempt(endpoint)

	p.mutex.Lock()
	p.current = a
	p.mutex.Unlock()

	a.Log(logger.Info, "publishing to %s", utils.RedactURL(endpoint))

	err := p.start(ctx, a, capture)
	if err != nil {
		a.teardown("establish failed")
		p.release(a)
		a.Log(logger.Error, "%v", err)
		return SessionInfo{}, &PublishError{Endpoint: endpoint, Err: err}
	}

	info := a.session.Info()
	a.Log(logger.Info, "publishing, session endpoint %s, session id '%s'",
		utils.RedactURL(info.SessionEndpoint), info.SessionID)
	return info, nil
}

func (p *Publisher) newAttempt(endpoint string) *attempt {
	return &attempt{
		session:   newSession(endpoint),
		conf:      p.Conf.withDefaults(),
		signaling: p.Signaling,
		unload:    p.Unload,
		parent:    p,
		now:       p.now,
	}
}

func (p *Publisher) start(ctx context.Context, a *attempt, capture Capture) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// teardown interrupts capture and negotiation.
	go func() {
		select {
		case <-a.session.done():
			cancel()
		case <-ctx.Done():
		}
	}()

	media, err := capture(ctx)
	if err != nil {
		if a.session.isStopped() {
			return ErrStopped
		}
		return &CaptureError{Err: err}
	}
	if !a.hold(func() { a.media = media }) {
		media.Stop()
		return ErrStopped
	}
	if len(media.Tracks()) == 0 {
		return &CaptureError{Err: fmt.Errorf("media source has no tracks")}
	}

	transport, err := p.NewTransport()
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	if !a.hold(func() { a.transport = transport }) {
		transport.Close()
		return ErrStopped
	}

	if r, ok := transport.(ICERestarter); ok {
		a.restart = r.RestartICE
	} else if a.conf.TrickleRestart {
		a.restart = a.trickleRestart
	}

	err = a.establish(ctx)
	if err != nil && a.session.isStopped() {
		return ErrStopped
	}
	return err
}

func (p *Publisher) release(a *attempt) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.current == a {
		p.current = nil
	}
}

// Stop tears the current session down. It is safe to call at any time.
func (p *Publisher) Stop() {
	p.mutex.Lock()
	a := p.current
	p.current = nil
	p.mutex.Unlock()

	if a != nil {
		a.teardown("stopped")
	}
}

// Info returns the identity of the active session.
func (p *Publisher) Info() (SessionInfo, bool) {
	p.mutex.Lock()
	a := p.current
	p.mutex.Unlock()

	if a == nil {
		return SessionInfo{}, false
	}
	info := a.session.Info()
	if info.Stopped || !info.HandshakeFinished {
		return SessionInfo{}, false
	}
	return info, true
}

// attempt is the runtime of one Session: its transport, media and recovery tasks.
type attempt struct {
	session   *Session
	conf      Config
	signaling *SignalingClient
	unload    *UnloadHooks
	parent    logger.Writer
	now       func() time.Time

	transport Transport
	media     MediaSource
	restart   func(ctx context.Context) error

	wg sync.WaitGroup
}

// Log implements logger.Writer.
func (a *attempt) Log(level logger.Level, format string, args ...interface{}) {
	a.parent.Log(level, "[whip %s] "+format, append([]interface{}{a.session.shortID()}, args...)...)
}

// hold runs set under the session lock unless the session is stopped.
// When it returns false the caller still owns what it wanted to store.
func (a *attempt) hold(set func()) bool {
	a.session.mutex.Lock()
	defer a.session.mutex.Unlock()
	if a.session.stopped {
		return false
	}
	set()
	return true
}

// held returns the transport and media stored by start.
func (a *attempt) held() (Transport, MediaSource) {
	a.session.mutex.Lock()
	defer a.session.mutex.Unlock()
	return a.transport, a.media
}

// spawn runs fn as a tracked recovery task.
func (a *attempt) spawn(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// wait waits for in-flight recovery tasks.
func (a *attempt) wait() {
	a.wg.Wait()
}

// requestContext returns the context of a signaling exchange issued by a
// background task. It is not tied to teardown: in-flight exchanges finish and
// their results are discarded.
func (a *attempt) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.conf.RequestTimeout)
}

// waitGathering waits for gatherDone, at most GatherTimeout.
func (a *attempt) waitGathering(ctx context.Context, gatherDone <-chan struct{}) error {
	t := time.NewTimer(a.conf.GatherTimeout)
	defer t.Stop()

	select {
	case <-gatherDone:
		return nil
	case <-t.C:
		a.Log(logger.Warn, "ICE gathering not complete after %v, continuing with partial candidates", a.conf.GatherTimeout)
		return nil
	case <-a.session.done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
