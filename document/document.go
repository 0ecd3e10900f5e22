package document

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/language"
)

// Document errors
var (
	ErrEmptyContent = errors.New("document has no content")
	ErrTooLarge     = errors.New("document exceeds size limit")
)

// MaxContentBytes is the largest document content accepted for analysis.
// Larger inputs must be split upstream before ingestion.
const MaxContentBytes = 4 << 20

// Document is a scanned or photographed medical document after text
// extraction. OCR happens upstream; Content is already plain text.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Content     string    `json:"content"`
	Language    string    `json:"language,omitempty"`
	Pages       int       `json:"pages,omitempty"`
	ProfileID   string    `json:"profileId,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt,omitempty"`
}

// New creates a document with a content-derived ID, so re-uploading the same
// scan yields the same identity.
func New(filename, content string) Document {
	return Document{
		ID:         Fingerprint([]byte(content)),
		Filename:   filename,
		Content:    content,
		UploadedAt: time.Now(),
	}
}

// Validate checks a document is analyzable.
func (d Document) Validate() error {
	if strings.TrimSpace(d.Content) == "" {
		return ErrEmptyContent
	}
	if len(d.Content) > MaxContentBytes {
		return ErrTooLarge
	}
	return nil
}

// Fingerprint returns a stable content hash used as a dedup identity.
func Fingerprint(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:16])
}

// NormalizeLanguage canonicalizes a detected language tag ("de-AT", "German",
// "eng") to a base ISO 639-1 code. Unparseable input falls back to English.
func NormalizeLanguage(tag string) string {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return "en"
	}
	base, _ := t.Base()
	return base.String()
}
