package formatprocessor

import (
	"XPusher/internal/logger"
	"bytes"
	"errors"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"
)

// extract SPS and PPS without decoding RTP packets
func rtpH264ExtractParams(payload []byte) ([]byte, []byte) {
	if len(payload) < 1 {
		return nil, nil
	}

	typ := mch264.NALUType(payload[0] & 0x1F)

	switch typ {
	case mch264.NALUTypeSPS:
		return payload, nil

	case mch264.NALUTypePPS:
		return nil, payload

	case mch264.NALUTypeSTAPA:
		payload = payload[1:]
		var sps []byte
		var pps []byte

		for len(payload) > 0 {
			if len(payload) < 2 {
				break
			}

			size := uint16(payload[0])<<8 | uint16(payload[1])
			payload = payload[2:]

			if size == 0 {
				break
			}

			if int(size) > len(payload) {
				return nil, nil
			}

			nalu := payload[:size]
			payload = payload[size:]

			switch mch264.NALUType(nalu[0] & 0x1F) {
			case mch264.NALUTypeSPS:
				sps = nalu

			case mch264.NALUTypePPS:
				pps = nalu
			}
		}

		return sps, pps

	default:
		return nil, nil
	}
}

// h264 rebuilds access units so that every IDR is preceded by SPS and PPS,
// then packetizes them again within MaxPayloadSize.
type h264 struct {
	MaxPayloadSize int
	Format         *format.H264
	Parent         logger.Writer

	encoder *rtph264.Encoder
	decoder *rtph264.Decoder
}

func (t *h264) initialize() error {
	t.encoder = &rtph264.Encoder{
		PayloadMaxSize:    t.MaxPayloadSize - rtpHeaderSize,
		PayloadType:       t.Format.PayloadTyp,
		PacketizationMode: 1,
	}
	err := t.encoder.Init()
	if err != nil {
		return err
	}

	t.decoder, err = t.Format.CreateDecoder()
	return err
}

func (t *h264) updateTrackParametersFromRTPPacket(payload []byte) {
	sps, pps := rtpH264ExtractParams(payload)

	if (sps != nil && !bytes.Equal(sps, t.Format.SPS)) ||
		(pps != nil && !bytes.Equal(pps, t.Format.PPS)) {
		if sps == nil {
			sps = t.Format.SPS
		}
		if pps == nil {
			pps = t.Format.PPS
		}
		t.Format.SafeSetParams(sps, pps)
		t.Parent.Log(logger.Info, "H264 parameters updated")
	}
}

func (t *h264) ProcessRTPPacket(pkt *rtp.Packet) ([]*rtp.Packet, error) {
	t.updateTrackParametersFromRTPPacket(pkt.Payload)

	au, err := t.decoder.Decode(pkt)
	if err != nil {
		// fragments are buffered until the access unit is complete
		if errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) ||
			errors.Is(err, rtph264.ErrMorePacketsNeeded) {
			return nil, nil
		}
		return nil, err
	}

	au = t.remuxAccessUnit(au)
	if len(au) == 0 {
		return nil, nil
	}

	pkts, err := t.encoder.Encode(au)
	if err != nil {
		return nil, err
	}

	for _, newPKT := range pkts {
		newPKT.Timestamp = pkt.Timestamp
	}

	return pkts, nil
}

func (t *h264) remuxAccessUnit(au [][]byte) [][]byte {
	isKeyFrame := false
	n := 0

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}

		switch mch264.NALUType(nalu[0] & 0x1F) {
		case mch264.NALUTypeSPS, mch264.NALUTypePPS: // parameters: remove
			continue

		case mch264.NALUTypeAccessUnitDelimiter: // AUD: remove
			continue

		case mch264.NALUTypeIDR: // key frame
			if !isKeyFrame {
				isKeyFrame = true

				// prepend parameters
				if t.Format.SPS != nil && t.Format.PPS != nil {
					n += 2
				}
			}
		}
		n++
	}

	if n == 0 {
		return nil
	}

	filteredNALUs := make([][]byte, n)
	i := 0

	if isKeyFrame && t.Format.SPS != nil && t.Format.PPS != nil {
		filteredNALUs[0] = t.Format.SPS
		filteredNALUs[1] = t.Format.PPS
		i = 2
	}

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}

		switch mch264.NALUType(nalu[0] & 0x1F) {
		case mch264.NALUTypeSPS, mch264.NALUTypePPS:
			continue

		case mch264.NALUTypeAccessUnitDelimiter:
			continue
		}

		filteredNALUs[i] = nalu
		i++
	}

	return filteredNALUs
}
