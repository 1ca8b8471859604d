package formatprocessor

import (
	"XPusher/internal/logger"

	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// generic forwards packets as they are, without padding.
type generic struct {
	MaxPayloadSize int
	Format         format.Format
	Parent         logger.Writer

	oversizeLogged bool
}

func (t *generic) initialize() error {
	return nil
}

func (t *generic) ProcessRTPPacket(pkt *rtp.Packet) ([]*rtp.Packet, error) {
	// remove padding
	pkt.Padding = false
	pkt.PaddingSize = 0

	if pkt.MarshalSize() > t.MaxPayloadSize && !t.oversizeLogged {
		t.oversizeLogged = true
		t.Parent.Log(logger.Warn, "%s RTP packets are bigger than %d bytes and can't be split, forwarding them as they are",
			t.Format.Codec(), t.MaxPayloadSize)
	}

	return []*rtp.Packet{pkt}, nil
}
