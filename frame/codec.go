package frame

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"gostomp/internal/errs"
)

// MaxBodyLength bounds how many content-length bytes Decode will trust
// from a single header, so a malicious or corrupt length can't make the
// reader allocate unbounded memory.
const MaxBodyLength = 16 * 1024 * 1024

// EncodeOptions controls the version-dependent parts of Encode: line
// terminator and header escaping.
type EncodeOptions struct {
	Version Version
	CRLF    bool // usecrlf: CRLF outbound instead of LF (meaningful for 1.2)
}

func (o EncodeOptions) lineEnd() string {
	if o.CRLF {
		return "\r\n"
	}
	return "\n"
}

// Encode writes a complete frame — command line, headers, blank line,
// body, NUL terminator — to w, exactly the shape spec.md §4.1 describes.
// Header escaping follows the version in opts; 1.0 passes values through
// verbatim (undefined behavior in the protocol, documented pass-through
// here).
func Encode(w io.Writer, f *Frame, opts EncodeOptions) error {
	lineEnd := opts.lineEnd()
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteString(lineEnd)

	addContentLength := !f.SuppressContentLength
	var writeErr error
	f.Headers.Each(func(k, v string) {
		if writeErr != nil {
			return
		}
		if k == "content-length" {
			addContentLength = false
		}
		ek, ev, err := escapeHeader(opts.Version, k, v)
		if err != nil {
			writeErr = err
			return
		}
		buf.WriteString(ek)
		buf.WriteByte(':')
		buf.WriteString(ev)
		buf.WriteString(lineEnd)
	})
	if writeErr != nil {
		return writeErr
	}
	if addContentLength && len(f.Body) > 0 {
		buf.WriteString("content-length:")
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteString(lineEnd)
	}
	buf.WriteString(lineEnd)
	buf.Write(f.Body)
	buf.WriteByte(0)

	_, err := w.Write(buf.Bytes())
	if err != nil {
		return errs.Wrap(errs.KindTransportError, err)
	}
	return nil
}

// Decode reads one frame from r, skipping any leading blank lines —
// bare LINE-END bytes are heartbeats under spec.md §4.5, not frames.
// heartbeats reports how many such lines were absorbed before the
// returned frame (or error), so the caller can mark heartbeat receipt
// even when no frame was ultimately produced (EOF, parse error).
func Decode(r *bufio.Reader, version Version) (f *Frame, heartbeats int, err error) {
	for {
		line, lerr := readLine(r)
		if lerr != nil {
			return nil, heartbeats, lerr
		}
		if len(line) == 0 {
			heartbeats++
			continue
		}

		result := New(line)
		for {
			hline, lerr := readLine(r)
			if lerr != nil {
				return nil, heartbeats, lerr
			}
			if len(hline) == 0 {
				break
			}
			key, value, perr := parseHeaderLine(version, hline)
			if perr != nil {
				return nil, heartbeats, perr
			}
			result.Headers.Add(key, value)
		}

		body, berr := readBody(r, result.Headers)
		if berr != nil {
			return nil, heartbeats, berr
		}
		result.Body = body
		return result, heartbeats, nil
	}
}

// readLine reads up to and including the next LF, strips it, and strips
// a preceding CR if present — inbound accepts either terminator
// regardless of the negotiated version, per spec.md §4.1.
func readLine(r *bufio.Reader) (string, error) {
	raw, err := r.ReadBytes('\n')
	if err != nil {
		if len(raw) == 0 {
			return "", err
		}
		return "", errs.Wrap(errs.KindMalformedFrame, io.ErrUnexpectedEOF)
	}
	raw = raw[:len(raw)-1]
	if len(raw) > 0 && raw[len(raw)-1] == '\r' {
		raw = raw[:len(raw)-1]
	}
	return string(raw), nil
}

func parseHeaderLine(version Version, line string) (key, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", errs.New(errs.KindMalformedFrame, "header line missing ':': "+line)
	}
	rawKey, rawVal := line[:idx], line[idx+1:]
	if version == V1_0 {
		return rawKey, rawVal, nil
	}
	if !utf8.ValidString(rawKey) || !utf8.ValidString(rawVal) {
		return "", "", errs.New(errs.KindProtocolError, "header is not valid UTF-8")
	}
	key, err = unescapeString(version, rawKey)
	if err != nil {
		return "", "", err
	}
	value, err = unescapeString(version, rawVal)
	if err != nil {
		return "", "", err
	}
	return key, value, nil
}

func readBody(r *bufio.Reader, h *Headers) ([]byte, error) {
	if cl, ok := h.Get("content-length"); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, errs.New(errs.KindMalformedFrame, "invalid content-length: "+cl)
		}
		if n > MaxBodyLength {
			return nil, errs.Newf(errs.KindMalformedFrame, "content-length %d exceeds max %d", n, MaxBodyLength)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errs.Wrap(errs.KindMalformedFrame, err)
		}
		nul, err := r.ReadByte()
		if err != nil {
			return nil, errs.Wrap(errs.KindMalformedFrame, err)
		}
		if nul != 0 {
			return nil, errs.New(errs.KindMalformedFrame, "frame body missing NUL terminator")
		}
		return body, nil
	}

	body, err := r.ReadBytes(0)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedFrame, err)
	}
	if len(body) > MaxBodyLength {
		return nil, errs.Newf(errs.KindMalformedFrame, "frame body exceeds max %d bytes", MaxBodyLength)
	}
	return body[:len(body)-1], nil
}

// escapeHeader applies the version's escaping rules to both key and
// value. 1.0 has no escaping defined by the protocol; this layer passes
// values through verbatim, which is undefined behavior for ':' or
// newlines in a 1.0 value per spec.md §9's open question.
func escapeHeader(v Version, key, value string) (string, string, error) {
	if v == V1_0 {
		return key, value, nil
	}
	return escapeString(v, key), escapeString(v, value), nil
}

// escapeString implements the 1.1 table (\\, \n, \c) plus 1.2's addition
// of \r.
func escapeString(v Version, s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case ':':
			b.WriteString(`\c`)
		case '\r':
			if v == V1_2 {
				b.WriteString(`\r`)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeString reverses escapeString, rejecting sequences that
// escapeString would never produce (an ambiguous-on-the-wire \r under
// 1.1, or a dangling backslash).
func unescapeString(v Version, s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		i++
		if i >= len(runes) {
			return "", errs.New(errs.KindProtocolError, "dangling escape at end of header")
		}
		switch runes[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case 'r':
			if v != V1_2 {
				return "", errs.New(errs.KindProtocolError, `invalid escape sequence "\r" before protocol 1.2`)
			}
			b.WriteByte('\r')
		default:
			return "", errs.Newf(errs.KindProtocolError, "invalid escape sequence \\%c", runes[i])
		}
	}
	return b.String(), nil
}
