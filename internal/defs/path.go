package defs

import (
	"XPusher/internal/whip"
)

// Path is a named stream forwarded to a WHIP endpoint.
type Path interface {
	Name() string
	RemovePublisher(req PathRemovePublisherReq)
}

// PathAddPublisherRes contains the response of AddPublisher().
type PathAddPublisherRes struct {
	Path Path
	Err  error
}

// PathAddPublisherReq contains arguments of AddPublisher().
type PathAddPublisherReq struct {
	Author        Publisher
	AccessRequest PathAccessRequest
	Capture       whip.Capture
	Res           chan PathAddPublisherRes
}

// PathRemovePublisherReq contains arguments of RemovePublisher().
type PathRemovePublisherReq struct {
	Author Publisher
	Res    chan struct{}
}
