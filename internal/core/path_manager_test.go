package core

import (
	"XPusher/internal/conf"
	"XPusher/internal/defs"
	"XPusher/internal/logger"
	"XPusher/internal/whip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=ice-ufrag:ufrag\r\n" +
	"a=ice-pwd:pwdpwdpwdpwdpwdpwdpwdpwd\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

type nilWriter struct{}

func (nilWriter) Log(logger.Level, string, ...interface{}) {}

type testTransport struct {
	mutex  sync.Mutex
	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription
	closed int32
}

func (t *testTransport) AddTrack(webrtc.TrackLocal) error { return nil }

func (t *testTransport) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (t *testTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.local = &desc
	return nil
}

func (t *testTransport) LocalDescription() *webrtc.SessionDescription {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.local
}

func (t *testTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remote = &desc
	return nil
}

func (t *testTransport) RemoteDescription() *webrtc.SessionDescription {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.remote
}

func (t *testTransport) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateConnected
}

func (t *testTransport) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (t *testTransport) OnICEConnectionStateChange(func(webrtc.ICEConnectionState)) {}

func (t *testTransport) GatheringComplete() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *testTransport) Close() error {
	atomic.AddInt32(&t.closed, 1)
	return nil
}

type testMedia struct {
	stopped int32
}

func (m *testMedia) Tracks() []webrtc.TrackLocal {
	track, _ := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "test")
	return []webrtc.TrackLocal{track}
}

func (m *testMedia) Stop() {
	atomic.AddInt32(&m.stopped, 1)
}

type testAuthor struct {
	closed chan struct{}
	once   sync.Once
}

func newTestAuthor() *testAuthor {
	return &testAuthor{closed: make(chan struct{})}
}

func (a *testAuthor) Log(logger.Level, string, ...interface{}) {}

func (a *testAuthor) Close() {
	a.once.Do(func() { close(a.closed) })
}

type testIngest struct {
	*httptest.Server

	mutex   sync.Mutex
	status  int
	posts   []string
	deletes []string
}

func newTestIngest(t *testing.T) *testIngest {
	ti := &testIngest{status: http.StatusCreated}
	ti.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)

		ti.mutex.Lock()
		defer ti.mutex.Unlock()

		switch r.Method {
		case http.MethodPost:
			ti.posts = append(ti.posts, r.URL.Path)
			if ti.status >= 300 {
				w.WriteHeader(ti.status)
				return
			}
			w.Header().Set("Location", r.URL.Path+"/session?whip-session=s"+time.Now().Format("150405.000000"))
			w.WriteHeader(ti.status)
			io.WriteString(w, testSDP)

		case http.MethodDelete:
			ti.deletes = append(ti.deletes, r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(ti.Close)
	return ti
}

func (ti *testIngest) counts() (int, int) {
	ti.mutex.Lock()
	defer ti.mutex.Unlock()
	return len(ti.posts), len(ti.deletes)
}

func newTestPathManager(t *testing.T, ingest *testIngest) (*pathManager, *whip.UnloadHooks) {
	unload := &whip.UnloadHooks{}
	pm := &pathManager{
		whipConf: conf.WhipConf{
			Endpoint:       ingest.URL + "/live/{path}",
			GatherTimeout:  conf.Duration(time.Second),
			RepostCooldown: conf.Duration(time.Second),
			RequestTimeout: conf.Duration(2 * time.Second),
		},
		unload: unload,
		newTransport: func(logger.Writer) (whip.Transport, error) {
			return &testTransport{}, nil
		},
		parent: nilWriter{},
	}
	pm.initialize()
	return pm, unload
}

func addPublisher(t *testing.T, pm *pathManager, name string, author defs.Publisher, media *testMedia) defs.Path {
	pa, err := pm.AddPublisher(defs.PathAddPublisherReq{
		Author:        author,
		AccessRequest: defs.PathAccessRequest{Name: name, Publish: true},
		Capture: func(context.Context) (whip.MediaSource, error) {
			return media, nil
		},
	})
	require.NoError(t, err)
	return pa
}

func TestPathPublishLifecycle(t *testing.T) {
	ingest := newTestIngest(t)
	pm, unload := newTestPathManager(t, ingest)
	defer pm.close()

	author := newTestAuthor()
	media := &testMedia{}
	pa := addPublisher(t, pm, "cam", author, media)
	require.Equal(t, "cam", pa.Name())

	require.Eventually(t, func() bool {
		posts, _ := ingest.counts()
		return posts == 1 && unload.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "/live/cam", ingest.posts[0])

	pa.RemovePublisher(defs.PathRemovePublisherReq{Author: author})
	pa.(*path).wait()

	_, deletes := ingest.counts()
	require.Equal(t, 1, deletes)
	require.Equal(t, "/live/cam/session", ingest.deletes[0])
	require.Equal(t, int32(1), atomic.LoadInt32(&media.stopped))
	require.Equal(t, 0, unload.Len())
}

func TestPathNewPublisherReplacesOld(t *testing.T) {
	ingest := newTestIngest(t)
	pm, unload := newTestPathManager(t, ingest)
	defer pm.close()

	first := newTestAuthor()
	firstMedia := &testMedia{}
	pa1 := addPublisher(t, pm, "cam", first, firstMedia)

	require.Eventually(t, func() bool {
		return unload.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	second := newTestAuthor()
	secondMedia := &testMedia{}
	pa2 := addPublisher(t, pm, "cam", second, secondMedia)
	require.Same(t, pa1, pa2)

	select {
	case <-first.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("first publisher was not closed")
	}

	require.Eventually(t, func() bool {
		posts, _ := ingest.counts()
		return posts == 2 && atomic.LoadInt32(&firstMedia.stopped) == 1 && unload.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// the old author leaving doesn't affect the path.
	pa1.RemovePublisher(defs.PathRemovePublisherReq{Author: first})
	require.Equal(t, int32(0), atomic.LoadInt32(&secondMedia.stopped))

	select {
	case <-second.closed:
		t.Fatal("second publisher was closed")
	default:
	}
}

func TestPathPublishFailureClosesAuthor(t *testing.T) {
	ingest := newTestIngest(t)
	ingest.status = http.StatusForbidden
	pm, unload := newTestPathManager(t, ingest)
	defer pm.close()

	author := newTestAuthor()
	media := &testMedia{}
	pa := addPublisher(t, pm, "cam", author, media)

	select {
	case <-author.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher was not closed")
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&media.stopped))
	require.Equal(t, 0, unload.Len())

	pa.RemovePublisher(defs.PathRemovePublisherReq{Author: author})
	pa.(*path).wait()
}

func TestPathManagerInvalidName(t *testing.T) {
	ingest := newTestIngest(t)
	pm, _ := newTestPathManager(t, ingest)
	defer pm.close()

	_, err := pm.AddPublisher(defs.PathAddPublisherReq{
		Author:        newTestAuthor(),
		AccessRequest: defs.PathAccessRequest{Name: ""},
	})
	require.EqualError(t, err, "invalid path name")
}

func TestUnloadTearsDownPaths(t *testing.T) {
	ingest := newTestIngest(t)
	pm, unload := newTestPathManager(t, ingest)
	defer pm.close()

	media := &testMedia{}
	addPublisher(t, pm, "cam", newTestAuthor(), media)

	require.Eventually(t, func() bool {
		return unload.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	unload.Fire()

	_, deletes := ingest.counts()
	require.Equal(t, 1, deletes)
	require.Equal(t, int32(1), atomic.LoadInt32(&media.stopped))
}
