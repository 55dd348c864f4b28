package socket

import (
	"unicode/utf8"

	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is the codec used when none is configured.
const DefaultEncoding = "utf-8"

// DecodeError reports bytes the configured codec rejected. It is delivered
// on the data event set instead of a decoded payload and never aborts the
// reactor loop.
type DecodeError struct {
	Encoding string
	Raw      []byte
	cause    error
}

func (e *DecodeError) Error() string {
	if e.cause != nil {
		return "decode " + e.Encoding + ": " + e.cause.Error()
	}
	return "decode " + e.Encoding + ": malformed input"
}

func (e *DecodeError) Unwrap() error {
	return e.cause
}

// EncodeError reports text the configured codec cannot represent.
type EncodeError struct {
	Encoding string
	Text     string
	cause    error
}

func (e *EncodeError) Error() string {
	if e.cause != nil {
		return "encode " + e.Encoding + ": " + e.cause.Error()
	}
	return "encode " + e.Encoding + ": unsupported input"
}

func (e *EncodeError) Unwrap() error {
	return e.cause
}

// Codec converts between text and raw bytes at the payload boundary. The
// name is an IANA charset identifier resolved through x/text on first use.
type Codec struct {
	name       string
	enc        encoding.Encoding
	resolveErr error
	resolved   bool
}

func NewCodec(name string) *Codec {
	return &Codec{name: name}
}

func (c *Codec) Name() string {
	return c.name
}

func (c *Codec) resolve() (encoding.Encoding, error) {
	if !c.resolved {
		c.enc, c.resolveErr = ianaindex.IANA.Encoding(c.name)
		if c.resolveErr == nil && c.enc == nil {
			c.resolveErr = E.New("codec: unsupported encoding ", c.name)
		}
		c.resolved = true
	}
	return c.enc, c.resolveErr
}

func (c *Codec) Encode(text string) ([]byte, error) {
	enc, err := c.resolve()
	if err != nil {
		return nil, &EncodeError{Encoding: c.name, Text: text, cause: err}
	}
	if enc == unicode.UTF8 {
		return []byte(text), nil
	}
	data, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, &EncodeError{Encoding: c.name, Text: text, cause: err}
	}
	return data, nil
}

func (c *Codec) Decode(data []byte) (string, error) {
	enc, err := c.resolve()
	if err != nil {
		return "", &DecodeError{Encoding: c.name, Raw: data, cause: err}
	}
	decoded := data
	if enc != unicode.UTF8 {
		decoded, err = enc.NewDecoder().Bytes(data)
		if err != nil {
			return "", &DecodeError{Encoding: c.name, Raw: data, cause: err}
		}
	}
	if !utf8.Valid(decoded) {
		return "", &DecodeError{Encoding: c.name, Raw: data}
	}
	return string(decoded), nil
}
