package whip

import (
	"XPusher/internal/logger"

	"github.com/pion/webrtc/v4"
)

type recoveryAction int

const (
	actionNone recoveryAction = iota
	actionRestart
	actionRepost
)

func (a recoveryAction) String() string {
	switch a {
	case actionRestart:
		return "ICE restart"
	case actionRepost:
		return "full re-negotiation"
	}
	return "none"
}

// classifyConnectionState maps a peer connection state to a recovery action.
func classifyConnectionState(state webrtc.PeerConnectionState) recoveryAction {
	if state == webrtc.PeerConnectionStateFailed {
		return actionRepost
	}
	return actionNone
}

// classifyICEState maps an ICE connection state to a recovery action.
func classifyICEState(state webrtc.ICEConnectionState) recoveryAction {
	switch state {
	case webrtc.ICEConnectionStateDisconnected:
		return actionRestart
	case webrtc.ICEConnectionStateFailed:
		return actionRepost
	}
	return actionNone
}

func (a *attempt) onConnectionStateChange(state webrtc.PeerConnectionState) {
	a.Log(logger.Info, "connection state changed to %s", state)

	switch state {
	case webrtc.PeerConnectionStateConnecting, webrtc.PeerConnectionStateConnected:
		a.session.markConnected()
	}

	a.act(classifyConnectionState(state), "connection "+state.String())
}

func (a *attempt) onICEConnectionStateChange(state webrtc.ICEConnectionState) {
	a.Log(logger.Info, "ICE connection state changed to %s", state)
	a.act(classifyICEState(state), "ICE "+state.String())
}

func (a *attempt) act(action recoveryAction, reason string) {
	switch action {
	case actionRestart:
		a.spawn(func() { a.attemptRestart(reason) })
	case actionRepost:
		a.spawn(func() { a.fullRepost(reason) })
	}
}
