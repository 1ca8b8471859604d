package whip

import (
	"XPusher/internal/logger"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const testOfferSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=ice-ufrag:localufrag\r\n" +
	"a=ice-pwd:localpwdlocalpwdlocalpwd\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=sendonly\r\n" +
	"a=candidate:1 1 udp 2130706431 192.168.1.2 5000 typ host\r\n" +
	"a=end-of-candidates\r\n"

const testAnswerSDP = "v=0\r\n" +
	"o=- 2 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=ice-ufrag:remoteufrag\r\n" +
	"a=ice-pwd:remotepwdremotepwdremote\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=recvonly\r\n" +
	"a=candidate:1 1 udp 2130706431 10.0.0.9 8000 typ host\r\n"

type recordWriter struct {
	mutex sync.Mutex
	lines []string
}

func (w *recordWriter) Log(level logger.Level, format string, args ...interface{}) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.lines = append(w.lines, level.String()+" "+fmt.Sprintf(format, args...))
}

func (w *recordWriter) contains(s string) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	for _, l := range w.lines {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

type fakeTransport struct {
	mutex       sync.Mutex
	connState   webrtc.PeerConnectionState
	onConn      func(webrtc.PeerConnectionState)
	onICE       func(webrtc.ICEConnectionState)
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	tracks      []webrtc.TrackLocal
	offers      []*webrtc.OfferOptions
	remoteSets  int
	gatherNever bool
	closes      int32
	closePanics bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connState: webrtc.PeerConnectionStateNew}
}

func (t *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.tracks = append(t.tracks, track)
	return nil
}

func (t *fakeTransport) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.offers = append(t.offers, options)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testOfferSDP}, nil
}

func (t *fakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.local = &desc
	return nil
}

func (t *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.local
}

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remote = &desc
	t.remoteSets++
	return nil
}

func (t *fakeTransport) RemoteDescription() *webrtc.SessionDescription {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.remote
}

func (t *fakeTransport) ConnectionState() webrtc.PeerConnectionState {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connState
}

func (t *fakeTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.onConn = f
}

func (t *fakeTransport) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.onICE = f
}

func (t *fakeTransport) GatheringComplete() <-chan struct{} {
	ch := make(chan struct{})
	if !t.gatherNever {
		close(ch)
	}
	return ch
}

func (t *fakeTransport) Close() error {
	atomic.AddInt32(&t.closes, 1)
	if t.closePanics {
		panic("close exploded")
	}
	return nil
}

// fireConn sets the connection state and notifies the registered handler.
func (t *fakeTransport) fireConn(state webrtc.PeerConnectionState) {
	t.mutex.Lock()
	t.connState = state
	f := t.onConn
	t.mutex.Unlock()
	if f != nil {
		f(state)
	}
}

func (t *fakeTransport) fireICE(state webrtc.ICEConnectionState) {
	t.mutex.Lock()
	f := t.onICE
	t.mutex.Unlock()
	if f != nil {
		f(state)
	}
}

func (t *fakeTransport) remoteCount() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.remoteSets
}

// restartingTransport has its own in-place ICE restart.
type restartingTransport struct {
	*fakeTransport
	restarts int32
	entered  chan struct{}
	release  chan struct{}
	err      error
}

func (t *restartingTransport) RestartICE(ctx context.Context) error {
	atomic.AddInt32(&t.restarts, 1)
	if t.entered != nil {
		t.entered <- struct{}{}
	}
	if t.release != nil {
		<-t.release
	}
	return t.err
}

type fakeMedia struct {
	tracks []webrtc.TrackLocal
	stops  int32
}

func newFakeMedia(t *testing.T) *fakeMedia {
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "xpusher")
	require.NoError(t, err)
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "xpusher")
	require.NoError(t, err)
	return &fakeMedia{tracks: []webrtc.TrackLocal{video, audio}}
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal {
	return m.tracks
}

func (m *fakeMedia) Stop() {
	atomic.AddInt32(&m.stops, 1)
}

func (m *fakeMedia) capture(ctx context.Context) (MediaSource, error) {
	return m, nil
}

// whipServer is a WHIP endpoint recording every request.
type whipServer struct {
	*httptest.Server

	mutex       sync.Mutex
	postStatus  int
	locations   []string
	postPaths   []string
	patchBodies []string
	patchPaths  []string
	patchAnswer string
	deletes     []string
	headers     []http.Header

	// when set, POST number blockPost waits for release.
	blockPost int
	entered   chan struct{}
	release   chan struct{}
}

func newWHIPServer(t *testing.T) *whipServer {
	s := &whipServer{postStatus: http.StatusCreated}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *whipServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mutex.Lock()
	s.headers = append(s.headers, r.Header.Clone())

	switch r.Method {
	case http.MethodPost:
		s.postPaths = append(s.postPaths, r.URL.Path)
		n := len(s.postPaths)
		status := s.postStatus
		var location string
		if len(s.locations) >= n {
			location = s.locations[n-1]
		} else if len(s.locations) != 0 {
			location = s.locations[len(s.locations)-1]
		}
		block := s.blockPost == n
		s.mutex.Unlock()

		if block {
			s.entered <- struct{}{}
			<-s.release
		}

		if status >= 300 {
			w.WriteHeader(status)
			return
		}
		if location != "" {
			w.Header().Set("Location", location)
		}
		w.Header().Set("Content-Type", sdpContentType)
		w.WriteHeader(status)
		io.WriteString(w, testAnswerSDP)

	case http.MethodPatch:
		s.patchPaths = append(s.patchPaths, r.URL.Path)
		s.patchBodies = append(s.patchBodies, string(body))
		answer := s.patchAnswer
		s.mutex.Unlock()

		w.Header().Set("Content-Type", sdpFragContentType)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, answer)

	case http.MethodDelete:
		s.deletes = append(s.deletes, r.URL.Path)
		s.mutex.Unlock()
		w.WriteHeader(http.StatusOK)

	default:
		s.mutex.Unlock()
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *whipServer) setPostStatus(status int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.postStatus = status
}

func (s *whipServer) posts() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.postPaths)
}

func (s *whipServer) deleteCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.deletes)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mutex sync.Mutex
	t     time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	server    *whipServer
	transport *fakeTransport
	media     *fakeMedia
	clock     *fakeClock
	log       *recordWriter
	unload    *UnloadHooks
	publisher *Publisher
}

func newTestEnv(t *testing.T, transport Transport) *testEnv {
	env := &testEnv{
		server: newWHIPServer(t),
		media:  newFakeMedia(t),
		clock:  newFakeClock(),
		log:    &recordWriter{},
		unload: &UnloadHooks{},
	}

	switch tr := transport.(type) {
	case *fakeTransport:
		env.transport = tr
	case *restartingTransport:
		env.transport = tr.fakeTransport
	}

	env.publisher = &Publisher{
		Conf: Config{
			GatherTimeout:  time.Second,
			RepostCooldown: 5 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Signaling: &SignalingClient{
			HTTPClient:  env.server.Client(),
			BearerToken: "token",
			Parent:      env.log,
		},
		NewTransport: func() (Transport, error) {
			return transport, nil
		},
		Unload: env.unload,
		Parent: env.log,
		Now:    env.clock.Now,
	}
	return env
}

func (env *testEnv) endpoint() string {
	return env.server.URL + "/live/cam.whip"
}

// start establishes a session and returns its attempt.
func (env *testEnv) start(t *testing.T) *attempt {
	_, err := env.publisher.Start(context.Background(), env.endpoint(), env.media.capture)
	require.NoError(t, err)

	env.publisher.mutex.Lock()
	a := env.publisher.current
	env.publisher.mutex.Unlock()
	require.NotNil(t, a)
	return a
}
