package whip

import (
	"XPusher/internal/logger"
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// attemptRestart restarts ICE in place. Failures are logged and left for the
// next state change to re-evaluate.
func (a *attempt) attemptRestart(reason string) {
	ok, why := a.session.beginRestart()
	if !ok {
		a.Log(logger.Info, "ICE restart (%s) skipped: %s", reason, why)
		return
	}

	err := a.runRestart()
	a.session.endRestart()

	switch {
	case err == nil:
		a.Log(logger.Info, "ICE restart (%s) done", reason)

	case a.session.isStopped():
		a.Log(logger.Info, "ICE restart (%s) discarded: %v", reason, err)
		return

	default:
		a.Log(logger.Warn, "%v", &RecoveryFailure{Action: actionRestart.String(), Reason: reason, Err: err})
	}

	// a connection failure reported while restarting was dropped.
	if a.transport.ConnectionState() == webrtc.PeerConnectionStateFailed {
		a.fullRepost("connection failed after ICE restart")
	}
}

func (a *attempt) runRestart() error {
	if a.restart == nil {
		return ErrRestartUnavailable
	}
	ctx, cancel := a.requestContext()
	defer cancel()
	return safeCall(func() error {
		return a.restart(ctx)
	})
}

// trickleRestart restarts ICE through a trickle-ICE PATCH on the session endpoint.
func (a *attempt) trickleRestart(ctx context.Context) error {
	gatherDone := a.transport.GatheringComplete()

	offer, err := a.transport.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return fmt.Errorf("create restart offer: %w", err)
	}

	err = a.transport.SetLocalDescription(offer)
	if err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	err = a.waitGathering(ctx, gatherDone)
	if err != nil {
		return err
	}
	if a.session.isStopped() {
		return ErrStopped
	}

	frag, err := buildICEFragment(a.transport.LocalDescription().SDP)
	if err != nil {
		return err
	}

	answerFrag, err := a.signaling.Restart(ctx, a.session.endpoint(), frag)
	if err != nil {
		return err
	}
	if a.session.isStopped() {
		return ErrStopped
	}

	remote := a.transport.RemoteDescription()
	if remote == nil {
		return fmt.Errorf("no remote description")
	}

	sdp, err := applyICEFragment(remote.SDP, answerFrag)
	if err != nil {
		return err
	}

	return a.transport.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// fullRepost re-runs the offer/answer exchange against the original endpoint.
// Failures leave the session as it is.
func (a *attempt) fullRepost(reason string) {
	ok, why := a.session.beginRepost(a.now(), a.conf.RepostCooldown, a.conf.MaxReposts)
	if !ok {
		a.Log(logger.Info, "full re-negotiation (%s) skipped: %s", reason, why)
		return
	}

	a.Log(logger.Info, "full re-negotiation (%s) started", reason)

	err := safeCall(a.repost)
	a.session.endRepost(a.now())

	switch {
	case err == nil:
		info := a.session.Info()
		a.Log(logger.Info, "full re-negotiation (%s) done, session id '%s'", reason, info.SessionID)

	case a.session.isStopped():
		a.Log(logger.Info, "full re-negotiation (%s) discarded: %v", reason, err)

	default:
		a.Log(logger.Warn, "%v", &RecoveryFailure{Action: actionRepost.String(), Reason: reason, Err: err})
	}
}

func (a *attempt) repost() error {
	ctx, cancel := a.requestContext()
	defer cancel()

	gatherDone := a.transport.GatheringComplete()

	offer, err := a.transport.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	err = a.transport.SetLocalDescription(offer)
	if err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	err = a.waitGathering(ctx, gatherDone)
	if err != nil {
		return err
	}
	if a.session.isStopped() {
		return ErrStopped
	}

	// the session resource may be gone server side, always start over from the original endpoint.
	ans, err := a.signaling.Negotiate(ctx, a.session.originalEndpoint, a.transport.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if a.session.isStopped() {
		return ErrStopped
	}

	err = a.transport.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  ans.SDP,
	})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	if !a.session.commitAnswer(ans, false) {
		return ErrStopped
	}
	return nil
}
