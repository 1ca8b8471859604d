package whip

import (
	"context"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Transport is the subset of a WebRTC peer connection the publisher drives.
type Transport interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	ConnectionState() webrtc.PeerConnectionState
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))

	// GatheringComplete must be called before SetLocalDescription.
	// The channel is closed when candidate gathering is done.
	GatheringComplete() <-chan struct{}
	Close() error
}

// ICERestarter is implemented by transports able to restart ICE on their own.
type ICERestarter interface {
	RestartICE(ctx context.Context) error
}

// MediaSource is a set of local tracks owned by one publish attempt.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	// Stop releases the source. It must be safe to call more than once.
	Stop()
}

// Capture acquires the media source of a publish attempt.
type Capture func(ctx context.Context) (MediaSource, error)

// TransportConfig configures NewPeerTransport.
type TransportConfig struct {
	ICEServers    []string
	LoggerFactory logging.LoggerFactory
}

// PeerTransport is a Transport backed by a pion PeerConnection.
type PeerTransport struct {
	*webrtc.PeerConnection
}

// NewPeerTransport creates a send-only peer connection with the default codecs and interceptors.
func NewPeerTransport(conf TransportConfig) (*PeerTransport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	err := mediaEngine.RegisterDefaultCodecs()
	if err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	err = webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry)
	if err != nil {
		return nil, err
	}

	settingEngine := webrtc.SettingEngine{}
	if conf.LoggerFactory != nil {
		settingEngine.LoggerFactory = conf.LoggerFactory
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry))

	var iceServers []webrtc.ICEServer
	if len(conf.ICEServers) != 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: conf.ICEServers})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, err
	}

	return &PeerTransport{PeerConnection: pc}, nil
}

// AddTrack adds a send-only track and drains its RTCP so interceptors keep running.
func (t *PeerTransport) AddTrack(track webrtc.TrackLocal) error {
	transceiver, err := t.PeerConnection.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}

	sender := transceiver.Sender()
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// GatheringComplete implements Transport.
func (t *PeerTransport) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(t.PeerConnection)
}
