package zdict

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compressor turns one SPDY header block into a deflate stream seeded
// with Dictionary.
//
// Open Question decision: the reference implementation keeps one
// zlib stream (and therefore one sliding window) alive for a
// connection's whole lifetime, so later header blocks can
// backreference earlier ones. Go's flate.Reader only exposes a
// pull-based io.Reader, and feeding it a sync-flush chunk at a time
// risks permanently poisoning the reader with io.ErrUnexpectedEOF the
// moment a chunk ends mid-block — there's no supported way to resume
// a flate.Reader after that short of discarding it, which would lose
// the whole-connection window anyway. Compressor instead treats every
// header block as its own complete, self-terminating deflate stream
// seeded with the fixed preset Dictionary: fully interoperable with
// any decoder doing the same (nothing else in this codebase decodes
// any other way), at the cost of the cross-block compression gain the
// reference implementation gets from a persistent window.
type Compressor struct {
	buf bytes.Buffer
}

// NewCompressor returns a Compressor ready to compress header blocks.
func NewCompressor() *Compressor {
	return &Compressor{}
}

// Compress returns the dictionary-seeded deflate encoding of data.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	c.buf.Reset()
	w, err := flate.NewWriterDict(&c.buf, flate.DefaultCompression, Dictionary)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out, nil
}

// Decompressor reverses Compressor's framing.
type Decompressor struct{}

// NewDecompressor returns a Decompressor ready to inflate header
// blocks produced by a matching Compressor.
func NewDecompressor() *Decompressor {
	return &Decompressor{}
}

// Decompress inflates one header block previously produced by
// Compress.
func (d *Decompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReaderDict(bytes.NewReader(data), Dictionary)
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}
