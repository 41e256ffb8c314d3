package utils

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ScaleToWidth computes output (w, h) for a maximum width, preserving aspect
// ratio. Images narrower than maxWidth are never upscaled. Height is at
// least 1 for any positive source.
func ScaleToWidth(srcW, srcH, maxWidth int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	if maxWidth <= 0 || srcW <= maxWidth {
		return srcW, srcH
	}
	h := int(float64(srcH)*float64(maxWidth)/float64(srcW) + 0.5)
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}

// SanitizeName reduces a client-supplied file name (without extension) to
// lowercase ASCII letters, digits, '-' and '_'. Empty results become "image".
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	out := sanitize(base, 64)
	if out == "" {
		return "image"
	}
	return out
}

// SanitizeSegment cleans a storage category label for use as a directory or
// key prefix. Empty results fall back to def.
func SanitizeSegment(s, def string) string {
	if out := sanitize(s, 32); out != "" {
		return out
	}
	return def
}

func sanitize(s string, max int) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) || r == '_':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= max {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// VariantName builds "<base>-<suffix><ext>" from a source file name.
func VariantName(source, suffix, ext string) string {
	base := SanitizeName(source)
	if suffix == "" {
		return base + ext
	}
	return fmt.Sprintf("%s-%s%s", base, SanitizeSegment(suffix, "v"), ext)
}

// UniqueName prefixes name with a millisecond timestamp and a random token so
// concurrent writes of the same variant never collide.
func UniqueName(name string, now time.Time) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), token, name)
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// DetectFormat sniffs the image format from magic bytes. It returns "jpeg",
// "png", "gif", "webp" or "unknown".
func DetectFormat(b []byte) string {
	switch {
	case len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF:
		return "jpeg"
	case len(b) >= 4 && b[0] == 0x89 && b[1] == 'P' && b[2] == 'N' && b[3] == 'G':
		return "png"
	case len(b) >= 3 && b[0] == 'G' && b[1] == 'I' && b[2] == 'F':
		return "gif"
	case len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WEBP":
		return "webp"
	}
	return "unknown"
}
