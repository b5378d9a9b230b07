package message

import (
	"bytes"
	"strconv"
)

// parseStartLine splits line by whitespace per §4.4 and builds the
// request or response StartLine for p's mode.
func (p *Parser) parseStartLine(line []byte) (*StartLine, *Error) {
	if len(line) > MaxStartLineSize {
		return nil, newErr(KindHTTPVersion, "start line too large")
	}
	fields := bytes.Fields(line)
	if p.mode == ModeRequest {
		return parseRequestLine(fields)
	}
	return parseStatusLine(fields)
}

func parseRequestLine(fields [][]byte) (*StartLine, *Error) {
	if len(fields) != 3 {
		return nil, newErr(KindHTTPVersion, "malformed request line")
	}
	major, minor, ferr := parseVersion(fields[2])
	if ferr != nil {
		return nil, ferr
	}
	return &StartLine{
		Method:       string(fields[0]),
		Target:       string(fields[1]),
		VersionMajor: major,
		VersionMinor: minor,
	}, nil
}

func parseStatusLine(fields [][]byte) (*StartLine, *Error) {
	if len(fields) < 2 {
		return nil, newErr(KindHTTPVersion, "malformed status line")
	}
	major, minor, ferr := parseVersion(fields[0])
	if ferr != nil {
		return nil, ferr
	}
	code, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return nil, newErr(KindHTTPVersion, "malformed status code")
	}
	reason := ""
	if len(fields) > 2 {
		reason = string(bytes.Join(fields[2:], []byte(" ")))
	}
	return &StartLine{
		IsResponse:   true,
		StatusCode:   code,
		Reason:       reason,
		VersionMajor: major,
		VersionMinor: minor,
	}, nil
}

func parseVersion(v []byte) (major, minor int, ferr *Error) {
	if !bytes.HasPrefix(v, []byte("HTTP/")) {
		return 0, 0, newErr(KindHTTPVersion, "unrecognized version")
	}
	rest := v[len("HTTP/"):]
	dot := bytes.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, newErr(KindHTTPVersion, "unrecognized version")
	}
	maj, err1 := strconv.Atoi(string(rest[:dot]))
	min, err2 := strconv.Atoi(string(rest[dot+1:]))
	if err1 != nil || err2 != nil {
		return 0, 0, newErr(KindHTTPVersion, "unrecognized version")
	}
	return maj, min, nil
}

// parseHeaderLines parses individual "Name: Value" lines (malformed
// ones, lacking a colon, are discarded per §4.4). A duplicate
// Content-Length with conflicting values remains a hard failure (RFC
// 7230 §3.3.3 smuggling guard). When both Content-Length and
// Transfer-Encoding are present, Transfer-Encoding wins per I6:
// Content-Length is discarded (hasCL cleared) rather than raising a
// fault. Leading-first-header
// whitespace and unknown transfer-codings surface as a recoverable
// startErr (§7 WHITESPACE_HDR/TRANSFER_CODE) rather than aborting,
// since §4.5 buffers these on the request and answers with a
// synthetic response instead of tearing down the connection.
func parseHeaderLines(lines [][]byte) (hdr *Header, hasHost, hasCL, hasTE bool, clValue int64, teIsChunked bool, startErr, ferr *Error) {
	hdr = &Header{}
	var clSeen bool

	for i, line := range lines {
		if i == 0 && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && startErr == nil {
			startErr = newErr(KindWhitespaceHeader, "leading whitespace on first header")
		}

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue // malformed line, discarded per §4.4
		}
		name := line[:colon]
		value := bytes.TrimSpace(line[colon+1:])

		if colon > 0 && (line[colon-1] == ' ' || line[colon-1] == '\t') {
			continue // whitespace before colon: malformed, discarded
		}

		nameStr := string(name)
		valueStr := string(value)

		switch lowerASCII(nameStr) {
		case "content-length":
			n, err := strconv.ParseInt(valueStr, 10, 64)
			if err != nil || n < 0 {
				return nil, false, false, false, 0, false, nil, newErr(KindHTTPVersion, "invalid Content-Length")
			}
			if clSeen && n != clValue {
				return nil, false, false, false, 0, false, nil, errDuplicateContentLength
			}
			clSeen = true
			hasCL = true
			clValue = n
		case "transfer-encoding":
			hasTE = true
			if containsToken(valueStr, "chunked") {
				teIsChunked = true
			} else if valueStr != "" && !isKnownTransferCode(valueStr) && startErr == nil {
				startErr = newErr(KindTransferCode, "unknown transfer-coding: "+valueStr)
			}
		case "host":
			hasHost = true
		}

		hdr.Add(nameStr, valueStr)
	}

	if hasCL && hasTE {
		hasCL = false
		clValue = 0
	}

	return hdr, hasHost, hasCL, hasTE, clValue, teIsChunked, startErr, nil
}

func isKnownTransferCode(v string) bool {
	for _, tok := range splitComma(v) {
		switch lowerASCII(trimSpace(tok)) {
		case "chunked", "identity", "gzip", "compress", "deflate":
		default:
			return false
		}
	}
	return true
}
