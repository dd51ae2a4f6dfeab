// Package relay serves the two TCP mini-protocols a survivor client speaks:
// ingest (hand over one report, get ACK) and query (ask for mail).
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lucaslui/resilientroute/internal/model"
)

const (
	Ack        = "ACK"
	CmdGetMail = "GET_MAIL"

	DefaultMaxFrameBytes = 16 << 20
	maxCommandBytes      = 1024
)

var (
	// ErrMalformed marks input that is dropped without a reply.
	ErrMalformed = errors.New("relay: malformed input")

	errFrameTooLarge = errors.New("frame exceeds size limit")
)

// ReadFrame reads one newline-terminated frame. It stops at the first '\n',
// at EOF, or when no byte arrives for idle; in the last two cases whatever
// was buffered is the frame. The newline itself is not returned.
func ReadFrame(conn net.Conn, maxBytes int64, idle time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32<<10)
	for {
		if idle > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return nil, err
			}
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			if i := bytes.IndexByte(chunk[:n], '\n'); i >= 0 {
				buf.Write(chunk[:i])
				if int64(buf.Len()) > maxBytes {
					return nil, errFrameTooLarge
				}
				return buf.Bytes(), nil
			}
			buf.Write(chunk[:n])
			if int64(buf.Len()) > maxBytes {
				return nil, errFrameTooLarge
			}
		}
		if err != nil {
			var ne net.Error
			if errors.Is(err, io.EOF) || (errors.As(err, &ne) && ne.Timeout()) {
				if buf.Len() == 0 {
					return nil, err
				}
				return buf.Bytes(), nil
			}
			return nil, err
		}
	}
}

// ReportDecoder checks a frame holds exactly one JSON object matching the
// report schema before decoding it. Bytes before the first '{' and trailing
// whitespace or control bytes are noise from flaky senders and are ignored.
type ReportDecoder struct {
	schema *jsonschema.Schema
}

func NewReportDecoder() (*ReportDecoder, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(model.ReportSchemaURL, strings.NewReader(model.ReportSchema)); err != nil {
		return nil, err
	}
	sch, err := c.Compile(model.ReportSchemaURL)
	if err != nil {
		return nil, err
	}
	return &ReportDecoder{schema: sch}, nil
}

func (d *ReportDecoder) Decode(frame []byte) (model.Report, error) {
	var r model.Report

	start := bytes.IndexByte(frame, '{')
	if start < 0 {
		return r, fmt.Errorf("%w: frame is not a JSON object", ErrMalformed)
	}
	body := frame[start:]

	dec := json.NewDecoder(bytes.NewReader(body))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj := body[:dec.InputOffset()]
	if rest := bytes.TrimFunc(body[len(obj):], isNoise); len(rest) > 0 {
		return r, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	if err := d.schema.Validate(doc); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(obj, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Kind == "" {
		r.Kind = model.KindSOS
	}
	return r, nil
}

func isNoise(r rune) bool { return r <= ' ' || r == 0x7f || r == utf8.RuneError }

// ParseCommand extracts the target of a GET_MAIL command. The target is the
// text after the first colon, trimmed.
func ParseCommand(raw []byte) (string, error) {
	line := raw
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	cmd, target, ok := strings.Cut(strings.TrimSpace(string(line)), ":")
	if !ok || cmd != CmdGetMail {
		return "", fmt.Errorf("%w: unknown command %q", ErrMalformed, cmd)
	}
	return strings.TrimSpace(target), nil
}
