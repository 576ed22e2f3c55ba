// Package jwt decodes compact JWS tokens without verifying them.
//
// Parse only answers "is this shaped like a signed token, and what does it
// literally say". Nothing returned by this package is authenticated.
package jwt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"github.com/capiscio/vp-verifier/pkg/vperr"
)

// Separator delimits the segments of a compact token.
const Separator = "."

// Token is an unverified compact JWS.
type Token struct {
	// Raw is the token exactly as received.
	Raw string

	// Header is the decoded JOSE header.
	Header map[string]any

	// Payload is the decoded claims set.
	Payload map[string]any

	// Signature is the third segment, kept encoded and never interpreted here.
	Signature string

	rawHeader  string
	rawPayload string
}

// IsCompact reports whether s has the three-segment JWS shape.
func IsCompact(s string) bool {
	parts := strings.Split(s, Separator)
	if len(parts) < 3 || len(parts) > 4 {
		return false
	}
	return parts[0] != "" && parts[1] != ""
}

// Parse splits and decodes a compact token.
// Fewer than three segments is a format error. A fourth trailing segment is ignored.
func Parse(raw string) (*Token, error) {
	parts := strings.Split(raw, Separator)
	if len(parts) < 3 || len(parts) > 4 {
		return nil, vperr.Errorf(vperr.ErrCodeFormat, "expected 3 segments separated by '.', got %d", len(parts))
	}
	if parts[0] == "" || parts[1] == "" {
		return nil, vperr.NewError(vperr.ErrCodeFormat, "empty header or payload segment")
	}

	header, err := decodeObject(parts[0])
	if err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeDecode, "decoding header", err)
	}

	payload, err := decodeObject(parts[1])
	if err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeDecode, "decoding payload", err)
	}

	return &Token{
		Raw:        raw,
		Header:     header,
		Payload:    payload,
		Signature:  parts[2],
		rawHeader:  parts[0],
		rawPayload: parts[1],
	}, nil
}

// Segments returns the original header, payload and signature segments.
func (t *Token) Segments() [3]string {
	return [3]string{t.rawHeader, t.rawPayload, t.Signature}
}

// Compact returns the three-segment serialization without any ignored trailing segment.
func (t *Token) Compact() string {
	return t.rawHeader + Separator + t.rawPayload + Separator + t.Signature
}

// SigningInput returns the JWS signing input, header.payload.
func (t *Token) SigningInput() string {
	return t.rawHeader + Separator + t.rawPayload
}

// HeaderString returns a string header parameter, or "" when absent or not a string.
func (t *Token) HeaderString(name string) string {
	s, _ := t.Header[name].(string)
	return s
}

// ClaimString returns a string claim, or "" when absent or not a string.
func (t *Token) ClaimString(name string) string {
	s, _ := t.Payload[name].(string)
	return s
}

// DecodeSegment decodes base64url with or without padding.
func DecodeSegment(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 && !strings.HasSuffix(s, "=") {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}

// EncodeSegment encodes b as unpadded base64url.
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeJSON decodes a base64url segment into v.
// Numbers are kept as json.Number so integer claims survive without float rounding.
func DecodeJSON(segment string, v any) error {
	data, err := DecodeSegment(segment)
	if err != nil {
		return err
	}
	return UnmarshalJSON(data, v)
}

// UnmarshalJSON decodes exactly one JSON value from data into v, keeping
// numbers as json.Number. Anything but whitespace after the value is an error.
func UnmarshalJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}

func decodeObject(segment string) (map[string]any, error) {
	var obj map[string]any
	if err := DecodeJSON(segment, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	return obj, nil
}
