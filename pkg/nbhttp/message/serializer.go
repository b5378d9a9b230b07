package message

import (
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// WriteRequestLine appends "METHOD SP target SP HTTP/1.1CRLF" to buf.
func WriteRequestLine(buf *bytebufferpool.ByteBuffer, method, target string) {
	buf.WriteString(method)
	buf.WriteString(" ")
	buf.WriteString(target)
	buf.WriteString(" HTTP/1.1\r\n")
}

// WriteStatusLine appends "HTTP/1.1 SP code SP phraseCRLF" to buf.
func WriteStatusLine(buf *bytebufferpool.ByteBuffer, code int, phrase string) {
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(code))
	buf.WriteString(" ")
	buf.WriteString(phrase)
	buf.WriteString("\r\n")
}

// WriteHeaders appends each field verbatim as "Name: ValueCRLF",
// followed by the terminating blank line. Hop-by-hop stripping is a
// proxy-boundary concern (Header.StripHopByHop) applied by callers
// that relay a message between connections; the wire serializer must
// not drop fields a caller set itself — res_start sets
// Transfer-Encoding/Connection on hdr specifically so this function
// emits them.
func WriteHeaders(buf *bytebufferpool.ByteBuffer, hdr *Header) {
	hdr.VisitAll(func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	})
	buf.WriteString("\r\n")
}

// WriteChunk wraps data with hex-size/CRLF framing for BDM=Chunked.
// An empty data slice writes the terminating zero-size chunk with no
// trailers, per §4.5's res_done contract.
func WriteChunk(buf *bytebufferpool.ByteBuffer, data []byte) {
	buf.WriteString(strconv.FormatInt(int64(len(data)), 16))
	buf.WriteString("\r\n")
	buf.Write(data)
	buf.WriteString("\r\n")
}

// WriteLastChunk appends the zero-size terminating chunk.
func WriteLastChunk(buf *bytebufferpool.ByteBuffer) {
	buf.WriteString("0\r\n\r\n")
}
