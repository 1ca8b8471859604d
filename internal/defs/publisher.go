package defs

import (
	"XPusher/internal/logger"
)

// Publisher is an entity that can publish a stream.
type Publisher interface {
	logger.Writer

	// Close closes the publisher. The path is notified through RemovePublisher.
	Close()
}
