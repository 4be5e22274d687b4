package tunnel

import (
	"bytes"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxRequestBytes is the hard cap on bytes buffered while waiting for a
// complete CONNECT request. Exceeding it without finding the terminator is a
// BadRequest.
const maxRequestBytes = 16 * 1024

var requestTerminator = []byte("\r\n\r\n")

// Nugget is an immutable byte block carried alongside a successful
// handshake. When present, the target connector writes it to the target
// immediately after connecting and before any relaying begins. It has
// shared-ownership semantics (several HandshakeResults may reference the
// same underlying bytes) and is never mutated after construction.
type Nugget struct {
	data []byte
}

// NewNugget copies b into a new, immutable Nugget.
func NewNugget(b []byte) Nugget {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Nugget{data: cp}
}

// Bytes returns the nugget's payload. Callers must not modify the result.
func (n Nugget) Bytes() []byte { return n.data }

// Empty reports whether the nugget carries no bytes (the zero value).
func (n Nugget) Empty() bool { return len(n.data) == 0 }

// HandshakeResult is the outcome of decoding one client request.
type HandshakeResult struct {
	Status    Status
	TargetURI string
	Nugget    Nugget
}

// Codec parses at most one HTTP/1.1 CONNECT request from a byte stream and
// encodes the corresponding status-line response. It holds no per-connection
// state: each Decode call parses at most one request from its reader, and a
// single Codec is shared by every connection a Controller handles.
//
// In strict mode (the default) only CONNECT is accepted; any other method
// is OperationNotAllowed. In the optional plaintext-forward mode, a
// non-CONNECT request is instead accepted: its full bytes become a Nugget
// and the target is reconstructed from its Host header, enabling a single
// CONNECT-shaped code path to also forward-proxy a first plain HTTP
// request (see DESIGN.md for the grammar this chooses).
type Codec struct {
	allowedTargets *regexp.Regexp
	forward        bool
}

// NewCodec builds a strict-mode Codec that admits only targets matching
// allowedTargets.
func NewCodec(allowedTargets *regexp.Regexp) *Codec {
	return &Codec{allowedTargets: allowedTargets}
}

// NewForwardCodec builds a Codec that additionally accepts a non-CONNECT
// first request, turning it into a Nugget forwarded to the target.
func NewForwardCodec(allowedTargets *regexp.Regexp) *Codec {
	return &Codec{allowedTargets: allowedTargets, forward: true}
}

// Decode reads from r until a complete request is framed (or the size cap
// is hit) and returns the parsed, admission-checked result.
//
// Decode does not perform DNS resolution; it only frames the request,
// validates the CONNECT grammar, and checks the target against the
// allowlist.
func (c *Codec) Decode(r io.Reader) (HandshakeResult, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		if idx, found := c.findTerminator(buf); found {
			return c.decodeComplete(buf[:idx], buf)
		}
		if len(buf) >= maxRequestBytes {
			return HandshakeResult{Status: StatusBadRequest}, nil
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx, found := c.findTerminator(buf); found {
				return c.decodeComplete(buf[:idx], buf)
			}
		}
		if err != nil {
			if err == io.EOF {
				return HandshakeResult{Status: StatusBadRequest}, nil
			}
			return HandshakeResult{}, err
		}
	}
}

// findTerminator locates the header terminator in buf. In strict mode the
// buffer must END with it (bytes past it are not part of the handshake
// and Decode parses only one request); in forward mode it may appear anywhere,
// since any bytes already buffered past it are themselves the start of
// the body carried in the Nugget.
func (c *Codec) findTerminator(buf []byte) (idx int, found bool) {
	if c.forward {
		i := bytes.Index(buf, requestTerminator)
		if i < 0 {
			return 0, false
		}
		return i, true
	}
	if !bytes.HasSuffix(buf, requestTerminator) {
		return 0, false
	}
	return len(buf) - len(requestTerminator), true
}

// decodeComplete parses the request-line-plus-headers preceding the
// terminator (head excludes the terminator). raw is the entire buffer read
// so far, header and terminator and any trailing bytes already read past
// it; it is only consulted for a forward-mode Nugget.
func (c *Codec) decodeComplete(head, raw []byte) (HandshakeResult, error) {
	if !utf8.Valid(head) {
		return HandshakeResult{Status: StatusBadRequest}, nil
	}

	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return HandshakeResult{Status: StatusBadRequest}, nil
	}

	method, authority, ok := parseRequestLine(lines[0])
	if !ok {
		return HandshakeResult{Status: StatusBadRequest}, nil
	}

	if method != "CONNECT" {
		if !c.forward {
			return HandshakeResult{Status: StatusOperationNotAllowed}, nil
		}
		return c.decodeForward(lines[1:], raw)
	}

	if _, _, err := net.SplitHostPort(authority); err != nil {
		return HandshakeResult{Status: StatusBadRequest}, nil
	}

	if c.allowedTargets != nil && !c.allowedTargets.MatchString(authority) {
		return HandshakeResult{Status: StatusForbidden}, nil
	}

	return HandshakeResult{Status: StatusOk, TargetURI: authority}, nil
}

// decodeForward builds the Nugget and target URI for a non-CONNECT request
// accepted under forward mode: the target is the request's Host header
// (defaulting to port 80 when the header carries none), and the nugget is
// the full raw request as read so far — headers, terminator, and any body
// bytes that had already arrived in the same reads.
func (c *Codec) decodeForward(headerLines []string, raw []byte) (HandshakeResult, error) {
	host := headerValue(headerLines, "Host")
	if host == "" {
		return HandshakeResult{Status: StatusBadRequest}, nil
	}
	authority := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		authority = net.JoinHostPort(host, "80")
	}

	if c.allowedTargets != nil && !c.allowedTargets.MatchString(authority) {
		return HandshakeResult{Status: StatusForbidden}, nil
	}

	return HandshakeResult{
		Status:    StatusOk,
		TargetURI: authority,
		Nugget:    NewNugget(raw),
	}, nil
}

// headerValue returns the value of the first header named name
// (case-insensitive), or "" if absent.
func headerValue(headerLines []string, name string) string {
	for _, line := range headerLines {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line[:colon]), name) {
			return strings.TrimSpace(line[colon+1:])
		}
	}
	return ""
}

// parseRequestLine matches "<method> <target> HTTP/1.1" and returns the
// method token and target on success; it accepts any method token; the
// caller compares it against "CONNECT" case-sensitively.
func parseRequestLine(line string) (method, authority string, ok bool) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return "", "", false
	}
	if parts[2] != "HTTP/1.1" {
		return "", "", false
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// EncodeStatus writes the status-line response for status to w. For
// Status.IsNugget() (OkWithNugget), nothing is written: the target's own
// response will be relayed verbatim.
func EncodeStatus(w io.Writer, status Status) error {
	if status.IsNugget() {
		return nil
	}
	_, err := io.WriteString(w, statusLine(status))
	return err
}

func statusLine(status Status) string {
	return "HTTP/1.1 " + strconv.Itoa(status.Code) + " " + status.Reason + "\r\n\r\n"
}
