package spdy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"strings"

	"github.com/yourusername/nbhttp/pkg/nbhttp/message"
	"github.com/yourusername/nbhttp/pkg/nbhttp/zdict"
)

// ErrHeaderBlock reports a malformed SPDY header block.
var ErrHeaderBlock = errors.New("spdy: malformed header block")

// EncodeHeaderBlock serializes hdr as §4.8's plaintext header-block
// format (u16 count, then count x (u16 nlen, name, u16 vlen, value)),
// lowercasing names, merging repeats of the same name with a NUL
// separator, and sorting entries by name — Chromium's original SPDY/1
// implementation requires a sorted header list — then compresses the
// result with comp.
func EncodeHeaderBlock(hdr *message.Header, comp *zdict.Compressor) ([]byte, error) {
	merged := map[string]string{}
	var order []string
	hdr.VisitAll(func(name, value string) {
		lname := strings.ToLower(name)
		if existing, ok := merged[lname]; ok {
			merged[lname] = existing + "\x00" + value
			return
		}
		merged[lname] = value
		order = append(order, lname)
	})
	sort.Strings(order)

	var buf bytes.Buffer
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(order)))
	buf.Write(countBuf[:])
	for _, name := range order {
		writeLenPrefixed(&buf, name)
		writeLenPrefixed(&buf, merged[name])
	}

	return comp.Compress(buf.Bytes())
}

func writeLenPrefixed(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

// DecodeHeaderBlock decompresses compressed with decomp and parses it
// into a Header, splitting any NUL-separated merged values back into
// distinct Add calls so multi-valued headers round-trip.
func DecodeHeaderBlock(compressed []byte, decomp *zdict.Decompressor) (*message.Header, error) {
	plain, err := decomp.Decompress(compressed)
	if err != nil {
		return nil, err
	}

	hdr := &message.Header{}
	if len(plain) < 2 {
		if len(plain) == 0 {
			return hdr, nil
		}
		return nil, ErrHeaderBlock
	}
	count := binary.BigEndian.Uint16(plain[:2])
	cursor := 2
	for i := 0; i < int(count); i++ {
		name, next, err := readLenPrefixed(plain, cursor)
		if err != nil {
			return nil, err
		}
		cursor = next
		value, next, err := readLenPrefixed(plain, cursor)
		if err != nil {
			return nil, err
		}
		cursor = next

		for _, v := range strings.Split(value, "\x00") {
			hdr.Add(name, v)
		}
	}
	return hdr, nil
}

func readLenPrefixed(buf []byte, cursor int) (string, int, error) {
	if cursor+2 > len(buf) {
		return "", 0, ErrHeaderBlock
	}
	n := int(binary.BigEndian.Uint16(buf[cursor : cursor+2]))
	cursor += 2
	if cursor+n > len(buf) {
		return "", 0, ErrHeaderBlock
	}
	return string(buf[cursor : cursor+n]), cursor + n, nil
}
