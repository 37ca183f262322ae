package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageCategory groups images by their role in a shop.
type ImageCategory string

const (
	CategoryUncategorized ImageCategory = "uncategorized"
	CategoryProducts      ImageCategory = "products"
	CategoryLogo          ImageCategory = "logo"
	CategoryBanner        ImageCategory = "banner"
)

// ParseCategory returns the category for s, falling back to uncategorized
// for unknown values.
func ParseCategory(s string) ImageCategory {
	switch ImageCategory(s) {
	case CategoryProducts, CategoryLogo, CategoryBanner:
		return ImageCategory(s)
	default:
		return CategoryUncategorized
	}
}

// ImageFormat is a normalized output format.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatWebP ImageFormat = "webp"
	FormatGIF  ImageFormat = "gif"
)

// ParseFormat maps a decoder-reported format name to an ImageFormat.
// ok is false when the format is outside the supported set.
func ParseFormat(name string) (ImageFormat, bool) {
	switch name {
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	case "gif":
		return FormatGIF, true
	default:
		return "", false
	}
}

// MimeTypeFor derives the mime type from a format. mimeType is a pure
// function of format and is never settable independently.
func MimeTypeFor(f ImageFormat) string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// ExtensionFor derives the stored-file extension from a format.
func ExtensionFor(f ImageFormat) string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatGIF:
		return "gif"
	default:
		return "bin"
	}
}

// ImageRecord is the persistent metadata row backing one stored image.
// Everything except the alt text / title / description and view count is
// immutable after creation.
type ImageRecord struct {
	ID                 uuid.UUID     `json:"id"`
	Category           ImageCategory `json:"category"`
	StoredFilename     string        `json:"filename"`
	StoragePath        string        `json:"file_path"`
	ByteSize           int64         `json:"file_size"`
	Width              int           `json:"width"`
	Height             int           `json:"height"`
	Format             ImageFormat   `json:"format"`
	MimeType           string        `json:"mime_type"`
	ContentFingerprint string        `json:"file_hash"`
	AltText            string        `json:"alt_text,omitempty"`
	Title              string        `json:"title,omitempty"`
	Description        string        `json:"description,omitempty"`
	UploadedBy         uuid.UUID     `json:"uploaded_by"` // uuid.Nil when the owner was removed
	ViewCount          int64         `json:"view_count"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// UploadParams carries everything the pipeline needs for one upload.
// Normalization of loose request input into this struct happens once at the
// HTTP boundary.
type UploadParams struct {
	OwnerID     uuid.UUID
	Data        []byte
	SizeHint    int64 // declared size; 0 means use len(Data)
	Category    ImageCategory
	AltText     string
	Title       string
	Description string
}

// TransformParams selects an on-demand transform of a stored image. Zero
// values mean "unset".
type TransformParams struct {
	Width   int
	Height  int
	Format  ImageFormat
	Quality int
}

// IsZero reports whether no transform was requested at all.
func (p TransformParams) IsZero() bool {
	return p.Width == 0 && p.Height == 0 && p.Format == "" && p.Quality == 0
}

// MetadataUpdate is a partial update of the mutable metadata fields.
// Nil pointers leave the field untouched.
type MetadataUpdate struct {
	AltText     *string
	Title       *string
	Description *string
}
