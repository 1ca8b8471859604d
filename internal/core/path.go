package core

import (
	"XPusher/internal/defs"
	"XPusher/internal/logger"
	"XPusher/internal/utils"
	"XPusher/internal/whip"
	"context"
	"fmt"
	"sync"
	"time"
)

type pathParent interface {
	logger.Writer
	pathReady(*path)
	closePath(*path)
}

type publishResult struct {
	author defs.Publisher
	info   whip.SessionInfo
	err    error
}

type path struct {
	parentCtx    context.Context
	name         string
	endpoint     string
	newPublisher func(*path) *whip.Publisher
	wg           *sync.WaitGroup
	parent       pathParent

	ctx            context.Context
	ctxCancel      func()
	source         defs.Publisher
	publisherQuery string
	publisher      *whip.Publisher
	startMutex     sync.Mutex
	startCancel    func()
	startWG        sync.WaitGroup
	readyTime      time.Time

	chAddPublisher    chan defs.PathAddPublisherReq
	chRemovePublisher chan defs.PathRemovePublisherReq
	chPublishResult   chan publishResult

	// out
	done chan struct{}
}

func (pa *path) initialize() {
	ctx, ctxCancel := context.WithCancel(pa.parentCtx)

	pa.ctx = ctx
	pa.ctxCancel = ctxCancel
	pa.publisher = pa.newPublisher(pa)
	pa.chAddPublisher = make(chan defs.PathAddPublisherReq)
	pa.chRemovePublisher = make(chan defs.PathRemovePublisherReq)
	pa.chPublishResult = make(chan publishResult)

	pa.done = make(chan struct{})

	pa.Log(logger.Info, "created, forwarding to %s", utils.RedactURL(pa.endpoint))

	pa.wg.Add(1)
	go pa.run()
}

func (pa *path) close() {
	pa.ctxCancel()
}

func (pa *path) wait() {
	<-pa.done
}

// Log implements logger.Writer.
func (pa *path) Log(level logger.Level, format string, args ...interface{}) {
	pa.parent.Log(level, "[path "+pa.name+"] "+format, args...)
}

// Name implements defs.Path.
func (pa *path) Name() string {
	return pa.name
}

// addPublisher is called by a publisher through pathManager.
func (pa *path) addPublisher(req defs.PathAddPublisherReq) (defs.Path, error) {
	select {
	case pa.chAddPublisher <- req:
		res := <-req.Res
		return res.Path, res.Err
	case <-pa.ctx.Done():
		return nil, fmt.Errorf("terminated")
	}
}

// RemovePublisher implements defs.Path.
func (pa *path) RemovePublisher(req defs.PathRemovePublisherReq) {
	req.Res = make(chan struct{})
	select {
	case pa.chRemovePublisher <- req:
		<-req.Res
	case <-pa.ctx.Done():
	}
}

func (pa *path) run() {
	defer close(pa.done)
	defer pa.wg.Done()

	err := pa.runInner()

	// call before destroying context
	pa.parent.closePath(pa)

	pa.ctxCancel()

	pa.startWG.Wait()
	pa.publisher.Stop()

	if pa.source != nil {
		pa.source.Close()
	}

	pa.Log(logger.Info, "destroyed: %v", err)
}

func (pa *path) runInner() error {
	for {
		select {
		case req := <-pa.chAddPublisher:
			pa.doAddPublisher(req)

		case req := <-pa.chRemovePublisher:
			if pa.doRemovePublisher(req) {
				return fmt.Errorf("not in use by any publisher")
			}

		case res := <-pa.chPublishResult:
			pa.doPublishResult(res)

		case <-pa.ctx.Done():
			return fmt.Errorf("terminated")
		}
	}
}

func (pa *path) doAddPublisher(req defs.PathAddPublisherReq) {
	if pa.source != nil {
		pa.Log(logger.Info, "closing existing publisher")
		pa.source.Close()
	}

	pa.source = req.Author
	pa.publisherQuery = req.AccessRequest.Query

	if pa.startCancel != nil {
		pa.startCancel()
	}
	var startCtx context.Context
	startCtx, pa.startCancel = context.WithCancel(pa.ctx)

	pa.startPublish(startCtx, req.Author, req.Capture)

	req.Res <- defs.PathAddPublisherRes{Path: pa}
}

// startPublish runs the WHIP handshake in the background.
// Handshakes run one at a time; one whose context was canceled by a newer publisher is skipped.
func (pa *path) startPublish(ctx context.Context, author defs.Publisher, capture whip.Capture) {
	pa.startWG.Add(1)
	go func() {
		defer pa.startWG.Done()

		pa.startMutex.Lock()
		if ctx.Err() != nil {
			pa.startMutex.Unlock()
			return
		}
		info, err := pa.publisher.Start(ctx, pa.endpoint, capture)
		pa.startMutex.Unlock()

		select {
		case pa.chPublishResult <- publishResult{author: author, info: info, err: err}:
		case <-pa.ctx.Done():
		}
	}()
}

func (pa *path) doPublishResult(res publishResult) {
	if res.author != pa.source {
		return
	}

	if res.err != nil {
		res.author.Log(logger.Error, "WHIP publish failed: %v", res.err)
		res.author.Close()
		return
	}

	pa.readyTime = time.Now()
	res.author.Log(logger.Info, "is forwarded to path '%s' over WHIP, session id '%s'", pa.name, res.info.SessionID)
	pa.parent.pathReady(pa)
}

// doRemovePublisher returns true when the path lost its publisher.
func (pa *path) doRemovePublisher(req defs.PathRemovePublisherReq) bool {
	defer close(req.Res)

	if pa.source != req.Author {
		return false
	}

	pa.source = nil
	return true
}
