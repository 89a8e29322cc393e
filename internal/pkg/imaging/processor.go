package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrTooLarge is returned for inputs above Config.MaxBytes
var ErrTooLarge = errors.New("image exceeds maximum size")

// ProcessedImage is a re-encoded image and its thumbnail, both JPEG
type ProcessedImage struct {
	Original    []byte
	Thumbnail   []byte
	ContentType string
	Width       int
	Height      int
	ThumbWidth  int
	ThumbHeight int
}

// Config for image processing
type Config struct {
	MaxSide   int   // longest side of the archived copy (default 2048)
	ThumbSide int   // longest side of the thumbnail (default 400)
	Quality   int   // JPEG quality 1-100 (default 85)
	MaxBytes  int64 // input limit (default 20MB)
}

// DefaultConfig returns default processing config
func DefaultConfig() Config {
	return Config{
		MaxSide:   2048,
		ThumbSide: 400,
		Quality:   85,
		MaxBytes:  MaxFileSize,
	}
}

// MaxFileSize in bytes (20MB)
const MaxFileSize int64 = 20 * 1024 * 1024

// Processor handles image processing
type Processor struct {
	config Config
}

// NewProcessor creates image processor
func NewProcessor(config Config) *Processor {
	def := DefaultConfig()
	if config.MaxSide <= 0 {
		config.MaxSide = def.MaxSide
	}
	if config.ThumbSide <= 0 {
		config.ThumbSide = def.ThumbSide
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = def.Quality
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = def.MaxBytes
	}
	return &Processor{config: config}
}

// Process decodes data, fits it within MaxSide and builds a thumbnail.
// Aspect ratio is kept for both; nothing is cropped.
func (p *Processor) Process(data []byte) (*ProcessedImage, error) {
	if int64(len(data)) > p.config.MaxBytes {
		return nil, ErrTooLarge
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := img
	bounds := img.Bounds()
	if bounds.Dx() > p.config.MaxSide || bounds.Dy() > p.config.MaxSide {
		resized = imaging.Fit(img, p.config.MaxSide, p.config.MaxSide, imaging.Lanczos)
	}

	original, err := p.encode(resized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode original: %w", err)
	}

	thumb := imaging.Fit(img, p.config.ThumbSide, p.config.ThumbSide, imaging.Lanczos)
	thumbnail, err := p.encode(thumb)
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return &ProcessedImage{
		Original:    original,
		Thumbnail:   thumbnail,
		ContentType: "image/jpeg",
		Width:       resized.Bounds().Dx(),
		Height:      resized.Bounds().Dy(),
		ThumbWidth:  thumb.Bounds().Dx(),
		ThumbHeight: thumb.Bounds().Dy(),
	}, nil
}

// encode flattens transparency onto white and encodes JPEG
func (p *Processor) encode(img image.Image) ([]byte, error) {
	flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), image.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GeneratePaths returns the storage keys of the n-th result of a job
func GeneratePaths(userID, jobID string, n int) (original, thumb string) {
	original = fmt.Sprintf("generations/%s/%s/%d.jpg", userID, jobID, n)
	thumb = fmt.Sprintf("generations/%s/%s/%d_thumb.jpg", userID, jobID, n)
	return
}
