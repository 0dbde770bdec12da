package content

import (
	"errors"
	"html"
	"inboxsync/internal/models"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
)

const (
	PreviewLength    = 100
	MaxContentLength = 4000
)

var (
	policy      = bluemonday.UGCPolicy()
	stripPolicy = bluemonday.StrictPolicy()

	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content is too long")
)

// Sanitize removes unsafe HTML from outgoing message content.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Preview renders the one-line conversation preview for a message: markup
// stripped, whitespace collapsed, cut to PreviewLength runes.
func Preview(m models.Message) string {
	text := html.UnescapeString(stripPolicy.Sanitize(m.Content))
	text = strings.Join(strings.Fields(text), " ")
	if text == "" && m.ContentType != "" && m.ContentType != models.ContentTypeText {
		return "[" + string(m.ContentType) + "]"
	}
	return truncate(text, PreviewLength)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// ValidateContent checks outgoing message text. Attachments-only messages may
// have empty text.
func ValidateContent(text string, attachments int) error {
	if strings.TrimSpace(text) == "" && attachments == 0 {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(text) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// DetectContentType sniffs the first bytes of an attachment. Animated and
// webp images are sent as stickers, other images as images, the rest as files.
func DetectContentType(header []byte) models.ContentType {
	kind, err := filetype.Match(header)
	if err != nil || kind == filetype.Unknown {
		return models.ContentTypeFile
	}
	switch kind.Extension {
	case "gif", "webp":
		return models.ContentTypeSticker
	}
	if filetype.IsImage(header) {
		return models.ContentTypeImage
	}
	return models.ContentTypeFile
}

// MIMEType returns the sniffed MIME type, or application/octet-stream.
func MIMEType(header []byte) string {
	kind, err := filetype.Match(header)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
