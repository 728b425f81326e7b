package convert

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// MaxUploadBytes is the hard admission cap for every category.
const MaxUploadBytes = 10 << 20

// acceptedExtensions lists the declared extensions each category admits.
var acceptedExtensions = map[Category]map[string]struct{}{
	CategoryImage: {
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
		".bmp": {}, ".tif": {}, ".tiff": {}, ".webp": {},
	},
	CategoryDoc: {
		".docx": {},
	},
	CategoryVector: {
		".eps": {}, ".ai": {},
	},
}

// acceptedSniffed lists content types (as reported by http.DetectContentType,
// parameters stripped) each category admits. "application/octet-stream" is
// always allowed because it is the detector's answer for "unknown".
// DOCX is a zip container; EPS is PostScript text and AI files are usually
// PDF-based, which is why doc and vector accept what they accept.
var acceptedSniffed = map[Category]map[string]struct{}{
	CategoryDoc: {
		"application/zip": {},
	},
	CategoryVector: {
		"text/plain":      {},
		"application/pdf": {},
	},
}

// Validate is the admission check run before any probing, buffering or task
// creation. It is pure: filename, size and the first bytes of the upload in,
// verdict out. sniff may be nil when content sniffing is not possible.
func Validate(filename string, size int64, sniff []byte, category Category) error {
	exts, ok := acceptedExtensions[category]
	if !ok {
		return NewErrUnknownCategory(string(category))
	}

	if size > MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, size, MaxUploadBytes)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, allowed := exts[ext]; !allowed {
		return fmt.Errorf("%w: extension %q is not accepted for category %s", ErrUnsupportedFormat, ext, category)
	}

	if len(sniff) > 0 {
		if err := checkSniffed(sniff, category); err != nil {
			return err
		}
	}
	return nil
}

func checkSniffed(sniff []byte, category Category) error {
	detected := http.DetectContentType(sniff)
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = strings.TrimSpace(detected[:i])
	}
	if detected == "application/octet-stream" {
		return nil
	}

	if category == CategoryImage {
		if strings.HasPrefix(detected, "image/") {
			return nil
		}
		return fmt.Errorf("%w: content looks like %s, not an image", ErrUnsupportedFormat, detected)
	}

	if _, allowed := acceptedSniffed[category][detected]; !allowed {
		return fmt.Errorf("%w: content looks like %s, not a %s upload", ErrUnsupportedFormat, detected, category)
	}
	return nil
}
