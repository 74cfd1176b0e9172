// Package chunk splits characteristic writes larger than the transport's
// per-operation limit into sequential chunks.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSize is the maximum number of bytes written in a single BLE operation
// when the caller does not say otherwise. 20 bytes fits the default ATT MTU of 23.
const DefaultSize = 20

// ErrInvalidChunkSize is returned when the chunk size is not positive
var ErrInvalidChunkSize = errors.New("chunk size must be greater than zero")

// SendFunc transmits one chunk
type SendFunc func(ctx context.Context, data []byte) error

// Error reports the chunk a write stopped at
type Error struct {
	Index  int // zero-based chunk index
	Offset int // byte offset of the chunk in the payload
	Total  int // number of chunks the payload was split into
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chunk %d/%d at offset %d failed: %v", e.Index+1, e.Total, e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result reports how far a write got
type Result struct {
	Sent  int `json:"sent"` // chunks acknowledged by the transport
	Total int `json:"total"`
}

// Split slices data into ceil(len/size) chunks; all but the last are exactly size bytes.
// The chunks alias data.
func Split(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := len(data)
		if n > size {
			n = size
		}
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks, nil
}

// PendingWrite is one fragmented write in flight
type PendingWrite struct {
	Characteristic string
	ChunkSize      int
	chunks         [][]byte
	sent           int
}

// NewPendingWrite splits data for characteristic using chunkSize.
func NewPendingWrite(characteristic string, data []byte, chunkSize int) (*PendingWrite, error) {
	chunks, err := Split(data, chunkSize)
	if err != nil {
		return nil, err
	}
	return &PendingWrite{Characteristic: characteristic, ChunkSize: chunkSize, chunks: chunks}, nil
}

// Remaining returns the number of chunks not yet sent.
func (p *PendingWrite) Remaining() int {
	return len(p.chunks) - p.sent
}

// Writer sends pending writes chunk by chunk
type Writer struct {
	send   SendFunc
	delay  time.Duration
	logger *logrus.Logger
}

// NewWriter creates a Writer using send for every chunk. delay, if positive,
// is waited between consecutive chunks.
func NewWriter(send SendFunc, delay time.Duration, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Writer{send: send, delay: delay, logger: logger}
}

// Write sends every remaining chunk strictly in order. The next chunk is
// issued only after the previous one succeeded; the first failure stops
// the write and nothing already sent is rolled back. ctx is checked between
// chunks, an in-flight chunk is never interrupted.
func (w *Writer) Write(ctx context.Context, p *PendingWrite) (Result, error) {
	total := len(p.chunks)
	for p.sent < total {
		if err := ctx.Err(); err != nil {
			return Result{Sent: p.sent, Total: total}, &Error{Index: p.sent, Offset: p.sent * p.ChunkSize, Total: total, Err: err}
		}
		if p.sent > 0 && w.delay > 0 {
			time.Sleep(w.delay)
		}

		c := p.chunks[p.sent]
		if err := w.send(ctx, c); err != nil {
			w.logger.WithFields(logrus.Fields{
				"characteristic": p.Characteristic,
				"chunk":          p.sent,
				"total":          total,
				"error":          err,
			}).Warn("Chunked write aborted")
			return Result{Sent: p.sent, Total: total}, &Error{Index: p.sent, Offset: p.sent * p.ChunkSize, Total: total, Err: err}
		}

		w.logger.WithFields(logrus.Fields{
			"characteristic": p.Characteristic,
			"chunk":          p.sent,
			"size":           len(c),
		}).Debug("Chunk written")
		p.sent++
	}
	return Result{Sent: p.sent, Total: total}, nil
}

// Write is a convenience wrapper splitting data and sending it with send.
func Write(ctx context.Context, data []byte, size int, send SendFunc) (Result, error) {
	p, err := NewPendingWrite("", data, size)
	if err != nil {
		return Result{}, err
	}
	return NewWriter(send, 0, nil).Write(ctx, p)
}
