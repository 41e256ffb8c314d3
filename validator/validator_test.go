package validator_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/validator"
)

var (
	jpegHead = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	pngHead  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	gifHead  = []byte("GIF89a\x01\x00")
	webpHead = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
)

func TestValidate_Signatures(t *testing.T) {
	v := validator.New(config.Default())
	tests := []struct {
		name string
		data []byte
		want core.Format
	}{
		{"a.jpg", jpegHead, core.FormatJPEG},
		{"a.png", pngHead, core.FormatPNG},
		{"a.gif", gifHead, core.FormatGIF},
		{"a.webp", webpHead, core.FormatWebP},
	}
	for _, tc := range tests {
		out := v.Validate(core.RawFile{Filename: tc.name, Bytes: tc.data})
		if !out.Valid || out.Format != tc.want {
			t.Errorf("%s: %+v", tc.name, out)
		}
	}
}

func TestValidate_Rejections(t *testing.T) {
	cfg := config.Default()
	cfg.MaxFileBytes = 16
	v := validator.New(cfg)

	tests := []struct {
		name string
		file core.RawFile
		want error
	}{
		{"text", core.RawFile{Filename: "a.png", Bytes: []byte("hello")}, apperrors.ErrUnsupportedFormat},
		{"riff-not-webp", core.RawFile{Filename: "a.webp", Bytes: []byte("RIFF\x00\x00\x00\x00WAVE")}, apperrors.ErrUnsupportedFormat},
		{"empty", core.RawFile{Filename: "a.png"}, apperrors.ErrEmptyInput},
		{"too-large", core.RawFile{Filename: "a.png", Bytes: make([]byte, 17)}, apperrors.ErrFileTooLarge},
		{"declared-too-large", core.RawFile{Filename: "a.png", Bytes: pngHead, DeclaredSize: 1 << 20}, apperrors.ErrFileTooLarge},
	}
	for _, tc := range tests {
		out := v.Validate(tc.file)
		if out.Valid {
			t.Errorf("%s: unexpectedly valid", tc.name)
			continue
		}
		if out.Reason == "" || !errors.Is(out.Cause, tc.want) {
			t.Errorf("%s: reason=%q cause=%v; want %v", tc.name, out.Reason, out.Cause, tc.want)
		}
	}
}

// isSignature reports whether b opens with one of the accepted image headers.
func isSignature(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0xFF, 0xD8, 0xFF}) ||
		bytes.HasPrefix(b, []byte{0x89, 'P', 'N', 'G'}) ||
		bytes.HasPrefix(b, []byte("GIF")) ||
		(bytes.HasPrefix(b, []byte("RIFF")) && len(b) >= 12 && string(b[8:12]) == "WEBP")
}

func TestValidate_RandomLeadingBytes(t *testing.T) {
	v := validator.New(config.Default())
	rng := rand.New(rand.NewSource(42))

	checked := 0
	for i := 0; i < 2000; i++ {
		data := make([]byte, 1+rng.Intn(64))
		rng.Read(data)
		// Bias some inputs toward near-miss headers.
		switch i % 5 {
		case 1:
			data = append([]byte{0xFF, 0xD8}, data...)
		case 2:
			data = append([]byte{0x89, 'P', 'N'}, data...)
		case 3:
			data = append([]byte("RIFF\x00\x00\x00\x00"), data...)
		}
		if isSignature(data) {
			continue
		}
		checked++
		out := v.Validate(core.RawFile{Filename: "upload.png", Bytes: data})
		if out.Valid || !errors.Is(out.Cause, apperrors.ErrUnsupportedFormat) {
			t.Fatalf("% x accepted: %+v", data, out)
		}
	}
	if checked < 1500 {
		t.Errorf("only %d inputs exercised", checked)
	}
}

func TestValidate_StrictExtensions(t *testing.T) {
	cfg := config.Default()
	cfg.StrictExtensions = true
	cfg.AllowedExtensions = []string{"JPG", ".png"}
	v := validator.New(cfg)

	if out := v.Validate(core.RawFile{Filename: "photo.JPG", Bytes: jpegHead}); !out.Valid {
		t.Errorf("uppercase allowed extension rejected: %+v", out)
	}
	if out := v.Validate(core.RawFile{Filename: "photo.gif", Bytes: gifHead}); out.Valid || !errors.Is(out.Cause, apperrors.ErrExtensionNotAllowed) {
		t.Errorf("gif should be rejected in strict mode: %+v", out)
	}
	if out := v.Validate(core.RawFile{Filename: "noext", Bytes: pngHead}); out.Valid {
		t.Error("missing extension should be rejected in strict mode")
	}

	lenient := validator.New(config.Default())
	if out := lenient.Validate(core.RawFile{Filename: "photo.txt", Bytes: gifHead}); !out.Valid {
		t.Errorf("non-strict mode should ignore the extension: %+v", out)
	}
}
