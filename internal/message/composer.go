package message

import (
	"context"

	"github.com/mailpilot/mailpilot/internal/attachment"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
)

// Result is a composed message ready for the provider
type Result struct {
	// Raw is the base64url encoded RFC 2822 message.
	Raw string
	// Text is the plain-text body that was sent.
	Text string
	// Parts is the number of MIME parts written.
	Parts int
	// Skipped lists attachments that could not be read.
	Skipped []model.AttachmentRef
}

// Composer turns an already rendered subject and
// body plus attachment references into a provider-ready message.
type Composer struct {
	attachments attachment.Reader
	log         *logger.Logger
}

// NewComposer creates a Composer that reads attachments through r
func NewComposer(r attachment.Reader, log *logger.Logger) *Composer {
	return &Composer{
		attachments: r,
		log:         log.WithComponent("message"),
	}
}

// Build composes and encodes a message. HTML bodies are reduced to plain
// text. An attachment that cannot be read is logged and left out; the
// message is still built with the remaining parts.
func (c *Composer) Build(ctx context.Context, from, to, subject, body string, refs []model.AttachmentRef) (*Result, error) {
	b, err := NewBuilder(from, to, subject)
	if err != nil {
		return nil, err
	}

	text := body
	if IsHTML(body) {
		text = PlainText(body)
	}
	b.AddText(text)

	var skipped []model.AttachmentRef
	for _, ref := range refs {
		if c.attachments == nil {
			skipped = append(skipped, ref)
			continue
		}
		data, err := c.attachments.ReadBytes(ctx, ref.StoragePath)
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("filename", ref.Filename).
				Str("storage_path", ref.StoragePath).
				Str("to", to).
				Msg("attachment unreadable, sending without it")
			skipped = append(skipped, ref)
			continue
		}
		b.AddAttachment(ref.Filename, data)
	}

	return &Result{
		Raw:     Encode(b.Bytes()),
		Text:    text,
		Parts:   len(b.Parts()),
		Skipped: skipped,
	}, nil
}
