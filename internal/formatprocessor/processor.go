// Package formatprocessor cleans and normalizes streams before they are forwarded over WebRTC.
package formatprocessor

import (
	"XPusher/internal/logger"
	"fmt"

	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// rtpHeaderSize is the size of a RTP header without CSRCs and extensions.
const rtpHeaderSize = 12

// Processor is the codec-dependent part of the processing applied to incoming RTP packets.
type Processor interface {
	// process a RTP packet and return the packets to forward.
	// A nil slice means the packet was buffered or dropped.
	ProcessRTPPacket(pkt *rtp.Packet) ([]*rtp.Packet, error)

	initialize() error
}

// New allocates a Processor.
func New(
	maxPayloadSize int,
	forma format.Format,
	parent logger.Writer,
) (Processor, error) {
	if maxPayloadSize <= rtpHeaderSize {
		return nil, fmt.Errorf("invalid max payload size: %d", maxPayloadSize)
	}

	var proc Processor

	switch forma := forma.(type) {
	case *format.H264:
		proc = &h264{
			MaxPayloadSize: maxPayloadSize,
			Format:         forma,
			Parent:         parent,
		}

	default:
		proc = &generic{
			MaxPayloadSize: maxPayloadSize,
			Format:         forma,
			Parent:         parent,
		}
	}

	err := proc.initialize()
	if err != nil {
		return nil, err
	}
	return proc, nil
}
