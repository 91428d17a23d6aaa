package retrieval

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/aide/internal/gateway"
)

// maxAttachmentChars caps how much text one attachment may contribute before
// chunking, so a single large PDF cannot crowd out the message itself.
const maxAttachmentChars = MaxChars

// AttachmentText extracts plain text from attachments the indexer
// understands. Unsupported types yield "" and no error.
func AttachmentText(a gateway.Attachment) (string, error) {
	switch {
	case len(a.Data) == 0:
		return "", nil
	case isText(a):
		return strings.TrimSpace(clip(string(a.Data), maxAttachmentChars)), nil
	case !isPDF(a):
		return "", nil
	}

	r, err := pdf.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", a.Filename, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", a.Filename, err)
	}
	b, err := io.ReadAll(io.LimitReader(plain, maxAttachmentChars))
	if err != nil {
		return "", fmt.Errorf("reading text from %s: %w", a.Filename, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func isText(a gateway.Attachment) bool {
	if strings.HasPrefix(a.MimeType, "text/") {
		return utf8.Valid(a.Data)
	}
	switch strings.ToLower(path.Ext(a.Filename)) {
	case ".txt", ".md", ".csv":
		return utf8.Valid(a.Data)
	}
	return false
}

func isPDF(a gateway.Attachment) bool {
	return a.MimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(a.Filename), ".pdf")
}
