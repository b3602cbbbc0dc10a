// Package handlers provides illustrative Put/Get/GetAll request
// handlers exercising the multi-coroutine fan-in/fan-out path (4.G,
// 4.I, 4.J) end to end. There is no real storage engine here — an
// in-memory map stands in for it, since the storage engine itself is
// out of scope.
package handlers

import (
	"sync"

	"github.com/swarmstore/swarmstore/internal/dispatcher"
	"github.com/swarmstore/swarmstore/internal/request"
	"github.com/swarmstore/swarmstore/internal/suspend"
	"github.com/swarmstore/swarmstore/internal/wire"
)

// Sub-type discriminators for the illustrative key/value protocol
// carried inside each request's body (4.I routes on these).
const (
	OpVerb      byte = 0x00 // client -> server: which operation follows
	OpPut       byte = 0x10
	OpPutOK     byte = 0x11
	OpGet       byte = 0x20
	OpGetReply  byte = 0x21
	OpGetAll    byte = 0x30
	OpGetAllRow byte = 0x31
	OpGetAllEnd byte = 0x32
)

const (
	VerbPut    byte = 1
	VerbGet    byte = 2
	VerbGetAll byte = 3
)

// Store is a trivial in-memory stand-in for the real storage engine.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) put(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
}

func (s *Store) get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	return v, ok
}

// snapshot returns every key/value pair at a point in time, so GetAll
// doesn't hold the store's lock while streaming rows to the client.
func (s *Store) snapshot() [][2][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([][2][]byte, 0, len(s.data))
	for k, v := range s.data {
		rows = append(rows, [2][]byte{[]byte(k), v})
	}
	return rows
}

// Dispatch reads the operation verb for one request and runs the
// matching handler. It returns once the request is fully served.
func Dispatch(req *request.RequestOnConn, store *Store) error {
	verbBody, err := req.Receive(OpVerb)
	if err != nil {
		return err
	}
	verb, err := wire.NewBodyReader(verbBody).Uint8()
	if err != nil {
		req.ShutdownWithProtocolError("missing operation verb")
		return err
	}

	switch verb {
	case VerbPut:
		return handlePut(req, store)
	case VerbGet:
		return handleGet(req, store)
	case VerbGetAll:
		return handleGetAll(req, store)
	default:
		req.ShutdownWithProtocolError("unknown operation verb")
		return nil
	}
}

func handlePut(req *request.RequestOnConn, store *Store) error {
	body, err := req.Receive(OpPut)
	if err != nil {
		return err
	}
	r := wire.NewBodyReader(body)
	key, err := r.Array()
	if err != nil {
		req.ShutdownWithProtocolError("malformed put key")
		return err
	}
	value, err := r.Array()
	if err != nil {
		req.ShutdownWithProtocolError("malformed put value")
		return err
	}

	store.put(key, value)
	return req.Send(OpPutOK, wire.NewBodyWriter().PutUint8(1).Bytes())
}

func handleGet(req *request.RequestOnConn, store *Store) error {
	body, err := req.Receive(OpGet)
	if err != nil {
		return err
	}
	key, err := wire.NewBodyReader(body).Array()
	if err != nil {
		req.ShutdownWithProtocolError("malformed get key")
		return err
	}

	value, ok := store.get(key)
	w := wire.NewBodyWriter()
	if ok {
		w.PutUint8(1).PutArray(value)
	} else {
		w.PutUint8(0)
	}
	return req.Send(OpGetReply, w.Bytes())
}

// handleGetAll streams every stored row back to the client, split
// across two coroutines coordinated by a delayed suspender (4.J): a
// producer that walks the snapshot, and the sender loop below it that
// owns the connection's send FIFO. The sender is the controller — it
// requests a suspension as soon as it takes a row off rowCh, so the
// producer's next check-in blocks until the row has actually gone out —
// and the producer is the worker, calling SuspendIfRequested after each
// push. Because rowCh is unbuffered, the producer can never get more
// than one row ahead regardless of how the race between RequestSuspension
// and the producer's check-in resolves; the suspender just makes the
// common case (sender still flushing) an actual wait instead of a spin.
func handleGetAll(req *request.RequestOnConn, store *Store) error {
	if _, err := req.Receive(OpGetAll); err != nil {
		return err
	}

	rows := store.snapshot()
	rowCh := make(chan [2][]byte)
	d := dispatcher.New()
	defer d.Abort(nil)
	rowSent := suspend.New(d, 1)

	go func() {
		defer close(rowCh)
		for _, row := range rows {
			rowCh <- row
			rowSent.SuspendIfRequested() //nolint:errcheck
		}
	}()

	yieldCounter := 0
	for row := range rowCh {
		rowSent.RequestSuspension()
		payload := wire.NewBodyWriter().PutArray(row[0]).PutArray(row[1]).Bytes()
		if err := req.Send(OpGetAllRow, payload); err != nil {
			rowSent.ResumeIfSuspended()
			return err
		}
		rowSent.ResumeIfSuspended()
		if err := req.PeriodicYield(&yieldCounter, 8); err != nil {
			return err
		}
	}

	return req.Send(OpGetAllEnd, nil)
}
