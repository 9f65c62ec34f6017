// Package tinycompress writes zlib streams made of stored DEFLATE blocks.
// It trades ratio for a tiny footprint: the MCU only needs output that the
// host's zlib can inflate.
package tinycompress

import (
	"hash/adler32"
	"io"
)

// maxStoredBlock is the largest payload a stored DEFLATE block can carry
const maxStoredBlock = 0xFFFF

// Writer buffers input and emits it as a zlib stream on Close
type Writer struct {
	output io.Writer
	buf    []byte
	closed bool
}

// NewWriter creates a new zlib Writer compatible with io.WriteCloser.
// The buffer is reserved up front; allocating during Write has hung the
// RP2040 multicore scheduler.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		output: w,
		buf:    make([]byte, 0, 8192),
	}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	if cap(w.buf) < len(w.buf)+len(p) {
		grown := make([]byte, len(w.buf), len(w.buf)+len(p))
		copy(grown, w.buf)
		w.buf = grown
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close writes the header, the stored blocks and the Adler-32 trailer
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.output.Write([]byte{0x78, 0x01}); err != nil {
		return err
	}

	data := w.buf
	for {
		n := len(data)
		final := byte(1)
		if n > maxStoredBlock {
			n = maxStoredBlock
			final = 0
		}
		length := uint16(n)
		nlength := ^length
		hdr := []byte{final, byte(length), byte(length >> 8), byte(nlength), byte(nlength >> 8)}
		if _, err := w.output.Write(hdr); err != nil {
			return err
		}
		if _, err := w.output.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if final == 1 {
			break
		}
	}

	sum := adler32.Checksum(w.buf)
	_, err := w.output.Write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return err
}
