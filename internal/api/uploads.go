package api

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"inboxsync/internal/content"
	"inboxsync/internal/models"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
)

// MaxUploadSize limits attachments read into memory for upload.
const MaxUploadSize = 25 << 20

var ErrUploadTooLarge = fmt.Errorf("attachment exceeds %d bytes", MaxUploadSize)

type Upload struct {
	URL         string             `json:"url"`
	MIMEType    string             `json:"mimeType"`
	ContentType models.ContentType `json:"-"`
}

// UploadAttachment sends r as a multipart file and returns the stored URL and
// the message content type the attachment should be sent as.
func (c *Client) UploadAttachment(ctx context.Context, name string, r io.Reader) (Upload, error) {
	br := bufio.NewReaderSize(r, 512)
	header, _ := br.Peek(261)
	mimeType := content.MIMEType(header)
	kind := content.DetectContentType(header)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(name)))
	partHeader.Set("Content-Type", mimeType)
	part, err := w.CreatePart(partHeader)
	if err != nil {
		return Upload{}, fmt.Errorf("failed to create multipart part: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(br, MaxUploadSize+1))
	if err != nil {
		return Upload{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	if n > MaxUploadSize {
		return Upload{}, ErrUploadTooLarge
	}
	if err := w.Close(); err != nil {
		return Upload{}, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	var up Upload
	_, err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/uploads",
		rawBody:     buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, &up)
	if err != nil {
		return Upload{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if up.MIMEType == "" {
		up.MIMEType = mimeType
	}
	up.ContentType = kind
	return up, nil
}
