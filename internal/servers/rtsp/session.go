package rtsp

import (
	"XPusher/internal/conf"
	"XPusher/internal/defs"
	"XPusher/internal/logger"
	"XPusher/internal/source"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/google/uuid"
)

type session struct {
	transports     conf.RTSPTransports
	maxPayloadSize int
	rsession       *gortsplib.ServerSession
	rconn          *gortsplib.ServerConn
	pathManager    serverPathManager
	parent         logger.Writer

	uuid    uuid.UUID
	created time.Time

	mutex     sync.Mutex
	state     gortsplib.ServerSessionState
	transport *gortsplib.Transport
	pathName  string
	query     string
	path      defs.Path
	source    *source.Source
}

func (s *session) initialize() {
	s.uuid = uuid.New()
	s.created = time.Now()

	s.Log(logger.Info, "created by %v", s.rconn.NetConn().RemoteAddr())
}

// Log implements logger.Writer.
func (s *session) Log(level logger.Level, format string, args ...interface{}) {
	id := hex.EncodeToString(s.uuid[:4])
	s.parent.Log(level, "[session %s] "+format, append([]interface{}{id}, args...)...)
}

// Close implements defs.Publisher.
func (s *session) Close() {
	s.rsession.Close()
}

// onClose is called by Server.
func (s *session) onClose(err error) {
	s.mutex.Lock()
	path := s.path
	s.path = nil
	s.mutex.Unlock()

	if path != nil {
		path.RemovePublisher(defs.PathRemovePublisherReq{Author: s})
	}

	s.Log(logger.Info, "destroyed: %v", err)
}

// onAnnounce is called by Server.
func (s *session) onAnnounce(c *conn, ctx *gortsplib.ServerHandlerOnAnnounceCtx) (*base.Response, error) {
	if len(ctx.Path) == 0 || ctx.Path[0] != '/' {
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, fmt.Errorf("invalid path")
	}
	ctx.Path = ctx.Path[1:]

	if ctx.Path == "" {
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, fmt.Errorf("empty path")
	}

	s.mutex.Lock()
	s.state = gortsplib.ServerSessionStatePreRecord
	s.pathName = ctx.Path
	s.query = ctx.Query
	s.mutex.Unlock()

	s.Log(logger.Info, "announced path '%s', %s", ctx.Path, defs.MediasInfo(ctx.Description.Medias))

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}

// onSetup is called by Server.
func (s *session) onSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if len(ctx.Path) == 0 || ctx.Path[0] != '/' {
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, nil, fmt.Errorf("invalid path")
	}

	// in case the client is setupping a stream with UDP or UDP-multicast, and these
	// transport protocols are disabled, gortsplib already blocks the request.
	// we have only to handle the case in which the transport protocol is TCP
	// and it is disabled.
	if ctx.Transport == gortsplib.TransportTCP {
		if _, ok := s.transports[gortsplib.TransportTCP]; !ok {
			return &base.Response{
				StatusCode: base.StatusUnsupportedTransport,
			}, nil, nil
		}
	}

	switch s.rsession.State() {
	case gortsplib.ServerSessionStateInitial, gortsplib.ServerSessionStatePrePlay: // play
		return &base.Response{
			StatusCode: base.StatusNotFound,
		}, nil, fmt.Errorf("reading is not supported, only publishing")

	default: // record
		return &base.Response{
			StatusCode: base.StatusOK,
		}, nil, nil
	}
}

// onRecord is called by Server.
func (s *session) onRecord(c *conn, ctx *gortsplib.ServerHandlerOnRecordCtx) (*base.Response, error) {
	s.mutex.Lock()
	pathName := s.pathName
	query := s.query
	s.mutex.Unlock()

	src := &source.Source{
		Desc:           s.rsession.AnnouncedDescription(),
		StreamID:       pathName,
		MaxPayloadSize: s.maxPayloadSize,
		Parent:         s,
		OnStop:         s.Close,
	}
	err := src.Initialize()
	if err != nil {
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, err
	}

	path, err := s.pathManager.AddPublisher(defs.PathAddPublisherReq{
		Author: s,
		AccessRequest: defs.PathAccessRequest{
			Name:    pathName,
			Query:   query,
			Publish: true,
			ID:      &s.uuid,
			IP:      c.ip(),
		},
		Capture: src.Capture,
	})
	if err != nil {
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, err
	}

	ctx.Session.OnPacketRTPAny(src.WriteRTPPacket)

	s.mutex.Lock()
	s.state = gortsplib.ServerSessionStateRecord
	s.transport = s.rsession.SetuppedTransport()
	s.path = path
	s.source = src
	s.mutex.Unlock()

	s.Log(logger.Info, "is publishing to path '%s' over %v", pathName, s.transport)

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}
