// Package core wires the RTSP server, the path manager and the WHIP publishers together.
package core

import (
	"XPusher/internal/conf"
	"XPusher/internal/logger"
	"XPusher/internal/servers/rtsp"
	"XPusher/internal/utils"
	"XPusher/internal/whip"
	"context"
	"fmt"
	"path/filepath"
)

// Core is an instance of XPusher.
type Core struct {
	product   string
	confPath  string
	ctx       context.Context
	ctxCancel func()

	conf        *conf.Config
	logger      *logger.AsyncLogQueue
	unload      *whip.UnloadHooks
	pathManager *pathManager
	rtspServer  *rtsp.Server

	// out
	done chan struct{}
}

// NewCore loads the configuration and allocates a Core.
// Recognized params are "product" and "conf".
func NewCore(params map[string]interface{}) (*Core, error) {
	ctx, ctxCancel := context.WithCancel(context.Background())
	c := &Core{
		confPath:  conf.CONFIG_FILE,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		done:      make(chan struct{}),
	}
	for k, v := range params {
		switch k {
		case "product":
			if val, ok := v.(string); ok {
				c.product = val
			}
		case "conf":
			if val, ok := v.(string); ok && val != "" {
				c.confPath = val
			}
		}
	}
	if c.product == "" {
		c.product = "xpusher"
	}

	var err error
	c.conf, err = conf.Load(c.confPath)
	if err != nil {
		ctxCancel()
		return nil, err
	}

	c.logger, err = logger.NewAsyncLogQueue(c.product,
		logger.WithLogDir(filepath.Join(utils.CWD(), "logs")),
		logger.WithLogMaxSize(c.conf.Log.LogMaxSize),
		logger.WithLogMaxBackup(c.conf.Log.LogMaxBackup),
		logger.WithLogQueueSize(c.conf.Log.LogQueueSize),
		logger.WithLogSaveDays(c.conf.Log.LogSaveDays))
	if err != nil {
		ctxCancel()
		return nil, fmt.Errorf("logger: %w", err)
	}

	return c, nil
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

// Start starts the path manager and the RTSP listener.
func (p *Core) Start() error {
	p.Log(logger.Info, "%s starting, WHIP endpoint %s", p.product, utils.RedactURL(p.conf.Whip.Endpoint))

	p.unload = &whip.UnloadHooks{}

	p.pathManager = &pathManager{
		whipConf: p.conf.Whip,
		unload:   p.unload,
		parent:   p,
	}
	p.pathManager.initialize()

	if p.conf.Rtsp.Rtsp {
		p.rtspServer = &rtsp.Server{
			Address:           p.conf.Rtsp.RtspAddress,
			RTPAddress:        p.conf.Rtsp.RtpAddress,
			RTCPAddress:       p.conf.Rtsp.RtcpAddress,
			MulticastIPRange:  p.conf.Rtsp.MulticastIPRange,
			MulticastRTPPort:  p.conf.Rtsp.MulticastRTPPort,
			MulticastRTCPPort: p.conf.Rtsp.MulticastRTCPPort,
			ReadTimeout:       p.conf.General.ReadTimeout,
			WriteTimeout:      p.conf.General.WriteTimeout,
			WriteQueueSize:    p.conf.General.WriteQueueSize,
			Transports:        p.conf.Rtsp.RtspTransports,
			MaxPayloadSize:    p.conf.Whip.MaxPayloadSize,
			PathManager:       p.pathManager,
			Parent:            p,
		}
		err := p.rtspServer.Initialize()
		if err != nil {
			p.rtspServer = nil
			p.closeResources()
			close(p.done)
			return err
		}
	}

	go p.run()
	return nil
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
func (p *Core) Wait() {
	<-p.done
}

func (p *Core) run() {
	defer close(p.done)

	<-p.ctx.Done()

	p.closeResources()
}

func (p *Core) closeResources() {
	// sessions go away first, so that their DELETE requests are sent.
	if p.unload != nil {
		p.unload.Fire()
	}

	if p.rtspServer != nil {
		p.rtspServer.Close()
	}

	if p.pathManager != nil {
		p.pathManager.close()
	}

	p.Log(logger.Info, "%s stopped", p.product)
	p.logger.Stop()
}
