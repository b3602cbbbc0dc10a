// Package connlog attaches a short correlation ID to every structured
// log line for one connection's lifetime, so a node operator can grep
// one connection's handshake, requests, and shutdown out of an
// interleaved multi-connection log. The ID has nothing to do with the
// wire RequestId (a spec-defined uint64, generated by the client per
// request) — it exists purely for log correlation.
package connlog

import (
	"github.com/rs/xid"

	"github.com/swarmstore/swarmstore/internal/logging"
)

// ConnLogger is a logging.Logger pinned to one connection's
// correlation ID.
type ConnLogger struct {
	*logging.Logger
	ID string
}

// New derives a ConnLogger from base, minting a fresh correlation ID
// and attaching it (plus the peer's address, when known) as a
// standing field on every entry.
func New(base *logging.Logger, peerAddr string) *ConnLogger {
	id := xid.New().String()
	fields := base.WithField("conn_id", id)
	if peerAddr != "" {
		fields = fields.WithField("peer_addr", peerAddr)
	}
	return &ConnLogger{Logger: fields, ID: id}
}

// WithRequest returns a derived logger additionally tagged with the
// wire RequestId this log line concerns.
func (c *ConnLogger) WithRequest(requestID uint64) *logging.Logger {
	return c.Logger.WithField("request_id", requestID)
}
