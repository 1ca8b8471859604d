package source

import (
	"XPusher/internal/logger"
	"context"
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type nilWriter struct{}

func (nilWriter) Log(logger.Level, string, ...interface{}) {}

func TestSourceTracks(t *testing.T) {
	desc := &description.Session{
		Medias: []*description.Media{
			{
				Type: description.MediaTypeVideo,
				Formats: []format.Format{
					&format.MJPEG{},
					&format.H264{PayloadTyp: 96, PacketizationMode: 1},
				},
			},
			{
				Type:    description.MediaTypeAudio,
				Formats: []format.Format{&format.G711{PayloadTyp: 0, MULaw: true, SampleRate: 8000, ChannelCount: 1}},
			},
			{
				Type:    description.MediaTypeAudio,
				Formats: []format.Format{&format.G711{PayloadTyp: 118, MULaw: false, SampleRate: 16000, ChannelCount: 1}},
			},
		},
	}

	s := &Source{
		Desc:           desc,
		StreamID:       "cam",
		MaxPayloadSize: 1200,
		Parent:         nilWriter{},
	}
	require.NoError(t, s.Initialize())

	tracks := s.Tracks()
	require.Len(t, tracks, 2)
	require.Equal(t, webrtc.MimeTypeH264, tracks[0].(*webrtc.TrackLocalStaticRTP).Codec().MimeType)
	require.Equal(t, webrtc.MimeTypePCMU, tracks[1].(*webrtc.TrackLocalStaticRTP).Codec().MimeType)
	require.Equal(t, "cam", tracks[0].StreamID())
	require.Equal(t, webrtc.RTPCodecTypeVideo, tracks[0].Kind())
	require.Equal(t, webrtc.RTPCodecTypeAudio, tracks[1].Kind())
}

func TestSourceUnsupported(t *testing.T) {
	s := &Source{
		Desc: &description.Session{
			Medias: []*description.Media{{
				Type:    description.MediaTypeVideo,
				Formats: []format.Format{&format.MJPEG{}},
			}},
		},
		MaxPayloadSize: 1200,
		Parent:         nilWriter{},
	}
	require.ErrorIs(t, s.Initialize(), ErrNoSupportedTracks)

	_, err := s.Capture(context.Background())
	require.ErrorIs(t, err, ErrNoSupportedTracks)
}

func TestSourceStop(t *testing.T) {
	forma := &format.VP8{PayloadTyp: 96}
	medi := &description.Media{
		Type:    description.MediaTypeVideo,
		Formats: []format.Format{forma},
	}

	stops := 0
	s := &Source{
		Desc:           &description.Session{Medias: []*description.Media{medi}},
		MaxPayloadSize: 1200,
		Parent:         nilWriter{},
		OnStop:         func() { stops++ },
	}
	require.NoError(t, s.Initialize())

	ms, err := s.Capture(context.Background())
	require.NoError(t, err)
	require.Len(t, ms.Tracks(), 1)

	// no peer is bound yet, the packet is processed and discarded by the track.
	s.WriteRTPPacket(medi, forma, &rtp.Packet{
		Header:  rtp.Header{Version: 2, Marker: true, PayloadType: 96},
		Payload: []byte{0x10, 0x00},
	})

	ms.Stop()
	ms.Stop()
	require.Equal(t, 1, stops)

	_, err = s.Capture(context.Background())
	require.EqualError(t, err, "source is stopped")

	s.WriteRTPPacket(medi, forma, &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96},
		Payload: []byte{0x10, 0x00},
	})
}

func TestH264ProfileLevelID(t *testing.T) {
	for _, ca := range []struct {
		name string
		sps  []byte
		id   string
	}{
		{"no sps", nil, "42e01f"},
		{"high", []byte{0x67, 0x64, 0x00, 0x28, 0xac}, "640028"},
		{"main", []byte{0x67, 0x4d, 0x40, 0x1f, 0x96}, "4d401f"},
		{"unregistered profile", []byte{0x67, 0x7a, 0x00, 0x1f, 0xbc}, "42e01f"},
	} {
		t.Run(ca.name, func(t *testing.T) {
			forma := &format.H264{PayloadTyp: 96, PacketizationMode: 1, SPS: ca.sps}
			require.Equal(t, ca.id, h264ProfileLevelID(forma))

			c, ok := codecCapability(forma)
			require.True(t, ok)
			require.Contains(t, c.SDPFmtpLine, "profile-level-id="+ca.id)
		})
	}
}
