package message_test

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/attachment"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/message"
	"github.com/mailpilot/mailpilot/internal/model"
)

type memReader map[string][]byte

func (m memReader) ReadBytes(_ context.Context, path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", attachment.ErrNotFound, path)
	}
	return data, nil
}

func countParts(t *testing.T, encoded string) int {
	t.Helper()

	msg := parse(t, encoded)
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	if mediaType != "multipart/mixed" {
		return 1
	}
	mr := multipart.NewReader(msg.Body, params["boundary"])
	n := 0
	for {
		if _, err := mr.NextPart(); err != nil {
			break
		}
		n++
	}
	return n
}

func TestComposer_Build(t *testing.T) {
	t.Parallel()

	reader := memReader{
		"u1/a.pdf": []byte("%PDF"),
		"u1/b.png": []byte{0x89, 'P', 'N', 'G'},
	}
	c := message.NewComposer(reader, logger.Nop())
	ctx := context.Background()

	t.Run("no attachments", func(t *testing.T) {
		t.Parallel()
		res, err := c.Build(ctx, "me@x.io", "ana@x.io", "Hi", "Hello Ana", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Parts)
		assert.Equal(t, 1, countParts(t, res.Raw))
		assert.Empty(t, res.Skipped)
	})

	t.Run("attachments add one part each", func(t *testing.T) {
		t.Parallel()
		refs := []model.AttachmentRef{
			{Filename: "a.pdf", StoragePath: "u1/a.pdf"},
			{Filename: "b.png", StoragePath: "u1/b.png"},
		}
		res, err := c.Build(ctx, "me@x.io", "ana@x.io", "Hi", "Hello", refs)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Parts)
		assert.Equal(t, 1+len(refs), countParts(t, res.Raw))
	})

	t.Run("html body is sent as text", func(t *testing.T) {
		t.Parallel()
		res, err := c.Build(ctx, "me@x.io", "ana@x.io", "Hi", "<p>Hello <b>Ana</b></p>", nil)
		require.NoError(t, err)
		assert.Equal(t, "Hello Ana", res.Text)

		raw, err := message.Decode(res.Raw)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "<b>")
	})
}

func TestComposer_MissingAttachmentIsNotFatal(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	c := message.NewComposer(memReader{"u1/a.pdf": []byte("%PDF")}, logger.NewWriter(&logs))

	refs := []model.AttachmentRef{
		{Filename: "gone.pdf", StoragePath: "u1/gone.pdf"},
		{Filename: "a.pdf", StoragePath: "u1/a.pdf"},
	}
	res, err := c.Build(context.Background(), "me@x.io", "ana@x.io", "Hi", "Body", refs)
	require.NoError(t, err)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "gone.pdf", res.Skipped[0].Filename)
	assert.Equal(t, 2, countParts(t, res.Raw))
	assert.Contains(t, logs.String(), "attachment unreadable")
	assert.Contains(t, logs.String(), "u1/gone.pdf")
}

func TestComposer_OnlyAttachmentMissingFallsBackToSinglePart(t *testing.T) {
	t.Parallel()

	c := message.NewComposer(memReader{}, logger.Nop())
	res, err := c.Build(context.Background(), "me@x.io", "ana@x.io", "Hi", "Body",
		[]model.AttachmentRef{{Filename: "gone.pdf", StoragePath: "gone.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, 1, countParts(t, res.Raw))
	assert.Len(t, res.Skipped, 1)
}
