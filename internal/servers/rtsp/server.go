// Package rtsp contains the RTSP server publishers push their streams to.
package rtsp

import (
	"XPusher/internal/conf"
	"XPusher/internal/defs"
	"XPusher/internal/logger"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

type serverPathManager interface {
	AddPublisher(req defs.PathAddPublisherReq) (defs.Path, error)
}

type serverParent interface {
	logger.Writer
}

// Server is a RTSP server accepting ANNOUNCE / RECORD.
type Server struct {
	Address           string
	RTPAddress        string
	RTCPAddress       string
	MulticastIPRange  string
	MulticastRTPPort  int
	MulticastRTCPPort int
	ReadTimeout       conf.Duration
	WriteTimeout      conf.Duration
	WriteQueueSize    int
	Transports        conf.RTSPTransports
	MaxPayloadSize    int
	PathManager       serverPathManager
	Parent            serverParent

	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
	srv       *gortsplib.Server
	mutex     sync.RWMutex
	conns     map[*gortsplib.ServerConn]*conn
	sessions  map[*gortsplib.ServerSession]*session
}

func printAddresses(srv *gortsplib.Server) string {
	var ret []string

	ret = append(ret, fmt.Sprintf("%s (TCP)", srv.RTSPAddress))

	if srv.UDPRTPAddress != "" {
		ret = append(ret, fmt.Sprintf("%s (UDP/RTP)", srv.UDPRTPAddress))
	}

	if srv.UDPRTCPAddress != "" {
		ret = append(ret, fmt.Sprintf("%s (UDP/RTCP)", srv.UDPRTCPAddress))
	}

	return strings.Join(ret, ", ")
}

// Initialize starts the listeners.
func (s *Server) Initialize() error {
	s.ctx, s.ctxCancel = context.WithCancel(context.Background())

	s.conns = make(map[*gortsplib.ServerConn]*conn)
	s.sessions = make(map[*gortsplib.ServerSession]*session)

	s.srv = &gortsplib.Server{
		Handler:        s,
		ReadTimeout:    time.Duration(s.ReadTimeout),
		WriteTimeout:   time.Duration(s.WriteTimeout),
		WriteQueueSize: s.WriteQueueSize,
		RTSPAddress:    s.Address,
	}

	if _, ok := s.Transports[gortsplib.TransportUDP]; ok {
		s.srv.UDPRTPAddress = s.RTPAddress
		s.srv.UDPRTCPAddress = s.RTCPAddress
	}

	if _, ok := s.Transports[gortsplib.TransportUDPMulticast]; ok {
		s.srv.MulticastIPRange = s.MulticastIPRange
		s.srv.MulticastRTPPort = s.MulticastRTPPort
		s.srv.MulticastRTCPPort = s.MulticastRTCPPort
	}

	err := s.srv.Start()
	if err != nil {
		return err
	}

	s.Log(logger.Info, "listener opened on %s", printAddresses(s.srv))

	s.wg.Add(1)
	go s.run()
	return nil
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[RTSP] "+format, args...)
}

// Close closes the server.
func (s *Server) Close() {
	s.Log(logger.Info, "listener is closing")
	s.ctxCancel()
	s.wg.Wait()
}

func (s *Server) run() {
	defer s.wg.Done()

	serverErr := make(chan error)
	go func() {
		serverErr <- s.srv.Wait()
	}()

outer:
	select {
	case err := <-serverErr:
		s.Log(logger.Error, "%s", err)
		break outer

	case <-s.ctx.Done():
		s.srv.Close()
		<-serverErr
		break outer
	}

	s.ctxCancel()
}

// OnConnOpen implements gortsplib.ServerHandlerOnConnOpen.
func (s *Server) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	c := &conn{
		rconn:  ctx.Conn,
		parent: s,
	}
	c.initialize()

	s.mutex.Lock()
	s.conns[ctx.Conn] = c
	s.mutex.Unlock()
}

// OnConnClose implements gortsplib.ServerHandlerOnConnClose.
func (s *Server) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	s.mutex.Lock()
	c := s.conns[ctx.Conn]
	delete(s.conns, ctx.Conn)
	s.mutex.Unlock()

	if c != nil {
		c.onClose(ctx.Error)
	}
}

// OnRequest implements gortsplib.ServerHandlerOnRequest.
func (s *Server) OnRequest(rc *gortsplib.ServerConn, req *base.Request) {
	if c := s.findConn(rc); c != nil {
		c.onRequest(req)
	}
}

// OnResponse implements gortsplib.ServerHandlerOnResponse.
func (s *Server) OnResponse(rc *gortsplib.ServerConn, res *base.Response) {
	if c := s.findConn(rc); c != nil {
		c.OnResponse(res)
	}
}

// OnSessionOpen implements gortsplib.ServerHandlerOnSessionOpen.
func (s *Server) OnSessionOpen(ctx *gortsplib.ServerHandlerOnSessionOpenCtx) {
	se := &session{
		transports:     s.Transports,
		maxPayloadSize: s.MaxPayloadSize,
		rsession:       ctx.Session,
		rconn:          ctx.Conn,
		pathManager:    s.PathManager,
		parent:         s,
	}
	se.initialize()

	s.mutex.Lock()
	s.sessions[ctx.Session] = se
	s.mutex.Unlock()
}

// OnSessionClose implements gortsplib.ServerHandlerOnSessionClose.
func (s *Server) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	s.mutex.Lock()
	se := s.sessions[ctx.Session]
	delete(s.sessions, ctx.Session)
	s.mutex.Unlock()

	if se != nil {
		se.onClose(ctx.Error)
	}
}

// OnAnnounce implements gortsplib.ServerHandlerOnAnnounce.
func (s *Server) OnAnnounce(ctx *gortsplib.ServerHandlerOnAnnounceCtx) (*base.Response, error) {
	c := s.findConn(ctx.Conn)
	se := s.findSession(ctx.Session)
	if c == nil || se == nil {
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, fmt.Errorf("session not found")
	}
	return se.onAnnounce(c, ctx)
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (s *Server) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	se := s.findSession(ctx.Session)
	if se == nil {
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, nil, fmt.Errorf("session not found")
	}
	return se.onSetup(ctx)
}

// OnRecord implements gortsplib.ServerHandlerOnRecord.
func (s *Server) OnRecord(ctx *gortsplib.ServerHandlerOnRecordCtx) (*base.Response, error) {
	c := s.findConn(ctx.Conn)
	se := s.findSession(ctx.Session)
	if c == nil || se == nil {
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, fmt.Errorf("session not found")
	}
	return se.onRecord(c, ctx)
}

func (s *Server) findConn(rc *gortsplib.ServerConn) *conn {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.conns[rc]
}

func (s *Server) findSession(rs *gortsplib.ServerSession) *session {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sessions[rs]
}
