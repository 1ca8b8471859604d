package whip

import (
	"XPusher/internal/logger"
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// teardown releases everything the attempt holds. Only the first call does
// anything; every step runs even if a previous one failed.
func (a *attempt) teardown(reason string) {
	if !a.session.markStopped() {
		return
	}

	a.Log(logger.Info, "closing: %s", reason)

	for i, fn := range a.session.cleanups.Drain() {
		a.step(fmt.Sprintf("cleanup #%d", i), func() error {
			fn()
			return nil
		})
	}

	transport, media := a.held()

	if transport != nil {
		if a.shouldTerminate(transport) {
			a.step("delete session", func() error {
				ctx, cancel := context.WithTimeout(context.Background(), a.conf.RequestTimeout)
				defer cancel()
				return a.signaling.Terminate(ctx, a.session.endpoint())
			})
		}

		a.step("close transport", transport.Close)
	}

	if media != nil {
		a.step("stop media", func() error {
			media.Stop()
			return nil
		})
	}

	a.Log(logger.Info, "closed")
}

func (a *attempt) shouldTerminate(transport Transport) bool {
	switch transport.ConnectionState() {
	case webrtc.PeerConnectionStateConnected, webrtc.PeerConnectionStateConnecting:
		return true
	}
	return a.session.wasConnected()
}

func (a *attempt) step(name string, fn func() error) {
	err := safeCall(fn)
	if err != nil {
		a.Log(logger.Warn, "%v", &TeardownFailure{Step: name, Err: err})
	}
}
