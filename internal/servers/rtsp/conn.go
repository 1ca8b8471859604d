package rtsp

import (
	"XPusher/internal/logger"
	"net"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/google/uuid"
)

type connParent interface {
	logger.Writer
}

type conn struct {
	rconn  *gortsplib.ServerConn
	parent connParent

	uuid    uuid.UUID
	created time.Time
}

// Log implements logger.Writer.
func (c *conn) Log(level logger.Level, format string, args ...interface{}) {
	c.parent.Log(level, "[conn %v] "+format, append([]interface{}{c.rconn.NetConn().RemoteAddr()}, args...)...)
}

func (c *conn) initialize() {
	c.uuid = uuid.New()
	c.created = time.Now()
	c.Log(logger.Info, "opened")
}

func (c *conn) ip() net.IP {
	if addr, ok := c.rconn.NetConn().RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

// onClose is called by Server.
func (c *conn) onClose(err error) {
	c.Log(logger.Info, "closed after %v: %v", time.Since(c.created).Round(time.Second), err)
}

// onRequest is called by Server.
func (c *conn) onRequest(req *base.Request) {
	c.Log(logger.Info, "[c->s] %s %v", req.Method, req.URL)
}

// OnResponse is called by Server.
func (c *conn) OnResponse(res *base.Response) {
	c.Log(logger.Info, "[s->c] %d %s", res.StatusCode, res.StatusMessage)
}
