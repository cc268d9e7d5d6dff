// Package message assembles RFC 2822 messages in the raw format accepted by
// the Gmail send API.
package message

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// ErrInvalidHeader is returned when an address or subject would break the
// header block.
var ErrInvalidHeader = errors.New("message: header value contains a line break")

const (
	crlf          = "\r\n"
	base64LineLen = 76
)

var boundarySeq atomic.Uint64

// Part is one MIME body part
type Part struct {
	ContentType string
	Encoding    string
	Filename    string
	Body        []byte
}

// Builder collects the parts of one message and serializes them once
type Builder struct {
	from     string
	to       string
	subject  string
	parts    []Part
	boundary string
}

// NewBuilder creates a Builder for a single message
func NewBuilder(from, to, subject string) (*Builder, error) {
	for _, v := range []string{from, to, subject} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, ErrInvalidHeader
		}
	}
	if from == "" || to == "" {
		return nil, fmt.Errorf("message: from and to are required")
	}
	return &Builder{from: from, to: to, subject: subject}, nil
}

// AddText adds the plain-text body part. ASCII text is sent as 7bit;
// anything else is quoted-printable.
func (b *Builder) AddText(body string) *Builder {
	body = normalizeNewlines(body)
	b.parts = append(b.parts, Part{
		ContentType: "text/plain; charset=UTF-8",
		Encoding:    textEncoding(body),
		Body:        []byte(body),
	})
	return b
}

// AddAttachment adds a file part with a content type derived from filename
func (b *Builder) AddAttachment(filename string, data []byte) *Builder {
	b.parts = append(b.parts, Part{
		ContentType: ContentType(filename),
		Encoding:    "base64",
		Filename:    filename,
		Body:        data,
	})
	return b
}

// Parts returns the parts added so far
func (b *Builder) Parts() []Part {
	return b.parts
}

// Boundary returns the multipart boundary, generating it on first use
func (b *Builder) Boundary() string {
	if b.boundary == "" {
		b.boundary = newBoundary()
	}
	return b.boundary
}

// Bytes serializes the message. A message with a single text part is
// written as text/plain; anything else becomes multipart/mixed.
func (b *Builder) Bytes() []byte {
	var buf bytes.Buffer

	writeHeader(&buf, "From", b.from)
	writeHeader(&buf, "To", b.to)
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", b.subject))
	writeHeader(&buf, "MIME-Version", "1.0")

	if len(b.parts) == 1 && b.parts[0].Filename == "" {
		writeHeader(&buf, "Content-Type", b.parts[0].ContentType)
		writeHeader(&buf, "Content-Transfer-Encoding", b.parts[0].Encoding)
		buf.WriteString(crlf)
		writeText(&buf, b.parts[0])
		return buf.Bytes()
	}

	boundary := b.Boundary()
	writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", boundary))
	buf.WriteString(crlf)

	for _, p := range b.parts {
		buf.WriteString("--" + boundary + crlf)
		if p.Filename == "" {
			writeHeader(&buf, "Content-Type", p.ContentType)
			writeHeader(&buf, "Content-Transfer-Encoding", p.Encoding)
			buf.WriteString(crlf)
			writeText(&buf, p)
			buf.WriteString(crlf)
			continue
		}

		name := encodeFilename(p.Filename)
		writeHeader(&buf, "Content-Type", fmt.Sprintf("%s; name=%q", p.ContentType, name))
		writeHeader(&buf, "Content-Transfer-Encoding", "base64")
		writeHeader(&buf, "Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		buf.WriteString(crlf)
		writeBase64Lines(&buf, p.Body)
	}
	buf.WriteString("--" + boundary + "--" + crlf)

	return buf.Bytes()
}

// Encode returns the base64url form of raw without padding, as expected in
// the raw field of a Gmail message.
func Encode(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode reverses Encode
func Decode(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString(crlf)
}

func textEncoding(body string) string {
	for i := 0; i < len(body); i++ {
		if body[i] >= utf8.RuneSelf {
			return "quoted-printable"
		}
	}
	return "7bit"
}

func writeText(buf *bytes.Buffer, p Part) {
	if p.Encoding != "quoted-printable" {
		buf.Write(p.Body)
		return
	}
	w := quotedprintable.NewWriter(buf)
	// writes to a bytes.Buffer cannot fail
	_, _ = w.Write(p.Body)
	_ = w.Close()
}

func writeBase64Lines(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > base64LineLen {
		buf.WriteString(encoded[:base64LineLen])
		buf.WriteString(crlf)
		encoded = encoded[base64LineLen:]
	}
	if encoded != "" {
		buf.WriteString(encoded)
		buf.WriteString(crlf)
	}
}

// newBoundary combines a timestamp, random bytes and a process-wide
// sequence number so no two messages share a boundary.
func newBoundary() string {
	var rnd [8]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		// time and sequence alone still keep boundaries unique in-process
		return fmt.Sprintf("mp_%x_%d", time.Now().UnixNano(), boundarySeq.Add(1))
	}
	return fmt.Sprintf("mp_%x_%s_%d", time.Now().UnixNano(), hex.EncodeToString(rnd[:]), boundarySeq.Add(1))
}

func encodeFilename(name string) string {
	name = strings.NewReplacer("\r", "", "\n", "", `"`, "'").Replace(name)
	return mime.QEncoding.Encode("utf-8", name)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", crlf)
}
