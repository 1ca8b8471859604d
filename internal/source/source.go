// Package source turns an announced RTSP stream into local WebRTC tracks.
package source

import (
	"XPusher/internal/formatprocessor"
	"XPusher/internal/logger"
	"XPusher/internal/whip"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const defaultH264ProfileLevelID = "42e01f"

// ErrNoSupportedTracks is returned when none of the announced medias can be sent over WebRTC.
var ErrNoSupportedTracks = errors.New("the stream doesn't contain any supported codec, " +
	"which are currently H264, VP8, VP9, Opus, G711")

type track struct {
	media  *description.Media
	format format.Format
	local  *webrtc.TrackLocalStaticRTP

	mutex sync.Mutex
	proc  formatprocessor.Processor
}

// Source feeds the packets of an RTSP publisher into WebRTC tracks.
type Source struct {
	Desc           *description.Session
	StreamID       string
	MaxPayloadSize int
	Parent         logger.Writer

	// OnStop is called once, when the WHIP session releases the source.
	OnStop func()

	tracks   []*track
	mutex    sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// Initialize creates one track per media, using the first supported format of each.
func (s *Source) Initialize() error {
	for _, medi := range s.Desc.Medias {
		for _, forma := range medi.Formats {
			codec, ok := codecCapability(forma)
			if !ok {
				continue
			}

			local, err := webrtc.NewTrackLocalStaticRTP(codec, string(medi.Type), s.StreamID)
			if err != nil {
				return err
			}

			proc, err := formatprocessor.New(s.MaxPayloadSize, forma, s.Parent)
			if err != nil {
				return err
			}

			s.tracks = append(s.tracks, &track{
				media:  medi,
				format: forma,
				local:  local,
				proc:   proc,
			})
			break
		}
	}

	if len(s.tracks) == 0 {
		return ErrNoSupportedTracks
	}

	for _, t := range s.tracks {
		s.Log(logger.Info, "forwarding %s track (%s)", t.media.Type, t.format.Codec())
	}
	return nil
}

// Log implements logger.Writer.
func (s *Source) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[source] "+format, args...)
}

// Capture hands the source to a WHIP publish.
func (s *Source) Capture(ctx context.Context) (whip.MediaSource, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.stopped {
		return nil, fmt.Errorf("source is stopped")
	}
	if len(s.tracks) == 0 {
		return nil, ErrNoSupportedTracks
	}
	return s, nil
}

// Tracks implements whip.MediaSource.
func (s *Source) Tracks() []webrtc.TrackLocal {
	ret := make([]webrtc.TrackLocal, len(s.tracks))
	for i, t := range s.tracks {
		ret[i] = t.local
	}
	return ret
}

// Stop implements whip.MediaSource.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		s.mutex.Lock()
		s.stopped = true
		s.mutex.Unlock()

		if s.OnStop != nil {
			s.OnStop()
		}
	})
}

func (s *Source) findTrack(medi *description.Media, forma format.Format) *track {
	for _, t := range s.tracks {
		if t.media == medi && t.format == forma {
			return t
		}
	}
	return nil
}

// WriteRTPPacket routes an incoming packet to its track.
// Packets of unforwarded formats and packets received after Stop are dropped.
func (s *Source) WriteRTPPacket(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
	s.mutex.RLock()
	stopped := s.stopped
	s.mutex.RUnlock()
	if stopped {
		return
	}

	t := s.findTrack(medi, forma)
	if t == nil {
		return
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	pkts, err := t.proc.ProcessRTPPacket(pkt)
	if err != nil {
		s.Log(logger.Warn, "%s: %v", t.format.Codec(), err)
		return
	}

	for _, p := range pkts {
		err = t.local.WriteRTP(p)
		if err != nil {
			s.Log(logger.Warn, "%s: write failed: %v", t.format.Codec(), err)
			return
		}
	}
}

// h264ProfileLevelID reads profile-level-id from the announced SPS.
// Profiles the peer connection doesn't register fall back to constrained baseline.
func h264ProfileLevelID(forma *format.H264) string {
	sps, _ := forma.SafeParams()
	if len(sps) < 4 {
		return defaultH264ProfileLevelID
	}

	switch sps[1] {
	case 0x42, 0x4d, 0x64: // baseline, main, high
		return fmt.Sprintf("%02x%02x%02x", sps[1], sps[2], sps[3])
	}
	return defaultH264ProfileLevelID
}

func codecCapability(forma format.Format) (webrtc.RTPCodecCapability, bool) {
	switch forma := forma.(type) {
	case *format.H264:
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" + h264ProfileLevelID(forma),
		}, true

	case *format.VP8:
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, true

	case *format.VP9:
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP9,
			ClockRate: 90000,
		}, true

	case *format.Opus:
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		}, true

	case *format.G711:
		if forma.SampleRate != 8000 || forma.ChannelCount != 1 {
			return webrtc.RTPCodecCapability{}, false
		}
		if forma.MULaw {
			return webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypePCMU,
				ClockRate: 8000,
			}, true
		}
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypePCMA,
			ClockRate: 8000,
		}, true
	}

	return webrtc.RTPCodecCapability{}, false
}
