package namedsem

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	frameHeaderSize = 4
	frameBufSize    = 512
	frameMaxSize    = 1 << 20
)

// EventStream writes events as length-prefixed MessagePack frames: a 4-byte
// big-endian length followed by the encoded Event. Frames can be appended to
// a log file or sent down a pipe to a supervising process and read back
// with EventReader.
//
// EventStream is safe for concurrent use, so one stream may observe several
// handles.
type EventStream struct {
	mu   sync.Mutex
	w    io.Writer
	pool *framePool
	err  error
}

// NewEventStream returns a stream writing length-prefixed MessagePack frames
// to w.
func NewEventStream(w io.Writer) *EventStream {
	return &EventStream{
		w:    w,
		pool: newFramePool(frameBufSize, 4),
	}
}

// Send encodes and writes one event.
func (es *EventStream) Send(ev Event) error {
	buf := bytes.NewBuffer(es.pool.Get()[:frameHeaderSize])
	if err := msgpack.NewEncoder(buf).Encode(&ev); err != nil {
		return errors.Wrap(err, "encoding event")
	}
	frame := buf.Bytes()
	binary.BigEndian.PutUint32(frame[:frameHeaderSize], uint32(len(frame)-frameHeaderSize))

	es.mu.Lock()
	defer es.mu.Unlock()
	_, err := es.w.Write(frame)
	es.pool.Put(frame)
	if err != nil {
		err = errors.Wrap(err, "writing event")
		if es.err == nil {
			es.err = err
		}
		return err
	}
	if flusher, ok := es.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Observer adapts the stream to a handle. Write errors are kept and
// reported by Err.
func (es *EventStream) Observer() Observer {
	return func(ev Event) {
		_ = es.Send(ev)
	}
}

// Err returns the first write error seen by the stream.
func (es *EventStream) Err() error {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.err
}

// EventReader decodes frames produced by EventStream.
type EventReader struct {
	r    io.Reader
	pool *framePool
}

// NewEventReader returns a reader for frames written by an EventStream.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{
		r:    r,
		pool: newFramePool(frameBufSize, 2),
	}
}

// Receive reads the next event. It returns io.EOF at a clean end of stream
// and io.ErrUnexpectedEOF for a truncated frame.
func (er *EventReader) Receive() (Event, error) {
	var ev Event
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(er.r, header[:]); err != nil {
		return ev, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > frameMaxSize {
		return ev, errors.Errorf("event frame of %d bytes exceeds limit", length)
	}

	var buf []byte
	if length <= uint32(er.pool.bufSize) {
		buf = er.pool.Get()[:length]
		defer er.pool.Put(buf)
	} else {
		buf = make([]byte, length)
	}
	if _, err := io.ReadFull(er.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return ev, err
	}
	if err := msgpack.Unmarshal(buf, &ev); err != nil {
		return ev, errors.Wrap(err, "decoding event")
	}
	return ev, nil
}
