package defs

import (
	"net"

	"github.com/google/uuid"
)

// PathAccessRequest is a path access request.
type PathAccessRequest struct {
	Name    string
	Query   string
	Publish bool

	ID *uuid.UUID
	IP net.IP
}
