package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		for y := 0; y < h; y += 7 {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestProcessFitsLargeImage(t *testing.T) {
	p := NewProcessor(DefaultConfig())

	out, err := p.Process(encodePNG(t, 3000, 1500))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Width != 2048 || out.Height != 1024 {
		t.Fatalf("expected 2048x1024, got %dx%d", out.Width, out.Height)
	}
	if out.ThumbWidth != 400 || out.ThumbHeight != 200 {
		t.Fatalf("expected 400x200 thumbnail, got %dx%d", out.ThumbWidth, out.ThumbHeight)
	}
	if out.ContentType != "image/jpeg" {
		t.Fatalf("unexpected content type %q", out.ContentType)
	}

	if _, err := jpeg.Decode(bytes.NewReader(out.Original)); err != nil {
		t.Fatalf("original is not a JPEG: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(out.Thumbnail)); err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
}

func TestProcessKeepsSmallImageSize(t *testing.T) {
	p := NewProcessor(Config{})

	out, err := p.Process(encodePNG(t, 640, 480))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Width != 640 || out.Height != 480 {
		t.Fatalf("expected 640x480, got %dx%d", out.Width, out.Height)
	}
}

func TestProcessRejectsGarbageAndOversized(t *testing.T) {
	p := NewProcessor(Config{MaxBytes: 16})

	if _, err := p.Process([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := p.Process(make([]byte, 17)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestGeneratePaths(t *testing.T) {
	original, thumb := GeneratePaths("u1", "j1", 2)
	if original != "generations/u1/j1/2.jpg" || thumb != "generations/u1/j1/2_thumb.jpg" {
		t.Fatalf("unexpected paths %q %q", original, thumb)
	}
}
