package whip

import (
	"XPusher/internal/logger"
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// establish runs the initial offer/answer exchange against the original endpoint.
func (a *attempt) establish(ctx context.Context) error {
	a.transport.OnConnectionStateChange(a.onConnectionStateChange)
	a.transport.OnICEConnectionStateChange(a.onICEConnectionStateChange)
	a.session.cleanups.Push(func() {
		a.transport.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
		a.transport.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
	})

	if a.unload != nil {
		a.session.cleanups.Push(a.unload.Register(func() {
			a.teardown("unload")
		}))
	}

	for _, track := range a.media.Tracks() {
		err := a.transport.AddTrack(track)
		if err != nil {
			return err
		}
	}

	gatherDone := a.transport.GatheringComplete()

	offer, err := a.transport.CreateOffer(nil)
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

	if !a.session.commitAnswer(ans, true) {
		return ErrStopped
	}

	a.Log(logger.Info, "handshake finished")
	return nil
}
