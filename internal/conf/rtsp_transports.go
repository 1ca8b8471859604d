package conf

import (
	"fmt"
	"strings"

	"github.com/bluenviron/gortsplib/v4"
)

// RTSPTransports is the set of enabled RTSP transport protocols.
type RTSPTransports map[gortsplib.Transport]struct{}

// Marshal fills the set from a comma-separated list such as "udp,multicast,tcp".
func (t *RTSPTransports) Marshal(tRtspTransports string) error {
	out := make(RTSPTransports)

	for _, v := range strings.Split(tRtspTransports, ",") {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "udp":
			out[gortsplib.TransportUDP] = struct{}{}

		case "multicast":
			out[gortsplib.TransportUDPMulticast] = struct{}{}

		case "tcp":
			out[gortsplib.TransportTCP] = struct{}{}

		case "":

		default:
			return fmt.Errorf("invalid RTSP transport: '%s'", v)
		}
	}

	if len(out) == 0 {
		return fmt.Errorf("no RTSP transport enabled")
	}

	*t = out
	return nil
}
