// Package media turns staged files into small encoded images for upload
// and renders their thumbnails.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/kalambet/stockmeta/internal/failure"
)

// Source identifies a staged file on disk.
type Source struct {
	Path     string
	Filename string
	MimeType string
}

func (s Source) mimeType() string {
	if s.MimeType != "" {
		return s.MimeType
	}
	name := s.Filename
	if name == "" {
		name = s.Path
	}
	return DetectMIME(name, nil)
}

// Compression bounds an encoded image.
type Compression struct {
	TargetBytes int
	MaxWidth    int
	MinWidth    int
}

// Processor converts staged files into upload payloads.
type Processor struct {
	Upload         Compression
	ThumbnailWidth int
	// ThumbnailQuality is the JPEG quality used for thumbnails.
	ThumbnailQuality int
	// VideoFrameWidth caps the width of frames extracted from videos.
	VideoFrameWidth int
	frames          frameGrabber
}

// NewProcessor returns a Processor with the stock limits: 10KB uploads
// starting at 256px wide, 150px thumbnails.
func NewProcessor(ffmpegPath string) *Processor {
	return &Processor{
		Upload:           Compression{TargetBytes: 10 * 1024, MaxWidth: 256, MinWidth: 128},
		ThumbnailWidth:   150,
		ThumbnailQuality: 40,
		VideoFrameWidth:  512,
		frames:           ffmpegGrabber{path: ffmpegPath},
	}
}

func mediaError(src Source, err error, format string, args ...any) *failure.Error {
	e := failure.Wrap(failure.Media, err, format, args...)
	if name := src.Filename; name != "" {
		e.Message = name + ": " + e.Message
	}
	return e
}

// Process produces the upload payload for src. Failures are MEDIA_ERROR.
func (p *Processor) Process(ctx context.Context, src Source) (Payload, error) {
	mimeType := src.mimeType()
	switch Classify(mimeType) {
	case KindImage:
		img, err := decodeFile(src.Path)
		if err != nil {
			return Payload{}, mediaError(src, err, "decoding image")
		}
		out := "image/jpeg"
		if mimeType == "image/png" {
			out = "image/png"
		}
		data, err := compress(img, p.Upload, out)
		if err != nil {
			return Payload{}, mediaError(src, err, "encoding image")
		}
		return NewPayload(data, out), nil

	case KindVideo:
		frame, err := p.frames.grab(ctx, src.Path, p.VideoFrameWidth)
		if err != nil {
			return Payload{}, mediaError(src, err, "extracting video frame")
		}
		if len(frame) <= p.Upload.TargetBytes {
			return NewPayload(frame, "image/jpeg"), nil
		}
		img, _, err := image.Decode(bytes.NewReader(frame))
		if err != nil {
			return Payload{}, mediaError(src, err, "decoding video frame")
		}
		data, err := compress(img, p.Upload, "image/jpeg")
		if err != nil {
			return Payload{}, mediaError(src, err, "encoding video frame")
		}
		return NewPayload(data, "image/jpeg"), nil

	case KindVector:
		if err := inspectVector(src.Path, mimeType); err != nil {
			return Payload{}, mediaError(src, err, "reading vector file")
		}
		data, err := encode(placeholder(100, "Vector File"), "image/jpeg", 50)
		if err != nil {
			return Payload{}, mediaError(src, err, "rendering placeholder")
		}
		return NewPayload(data, "image/jpeg"), nil
	}
	return Payload{}, mediaError(src, nil, "unsupported file type %q", mimeType)
}

// Thumbnail renders a small preview of src as a data URL.
func (p *Processor) Thumbnail(ctx context.Context, src Source) (string, error) {
	mimeType := src.mimeType()
	var (
		img image.Image
		err error
	)
	out := "image/jpeg"
	switch Classify(mimeType) {
	case KindImage:
		img, err = decodeFile(src.Path)
		if mimeType == "image/png" {
			out = "image/png"
		}
	case KindVideo:
		var frame []byte
		if frame, err = p.frames.grab(ctx, src.Path, p.ThumbnailWidth); err == nil {
			img, _, err = image.Decode(bytes.NewReader(frame))
		}
	case KindVector:
		label := strings.ToUpper(strings.TrimPrefix(filepath.Ext(src.Filename), "."))
		if label == "" {
			label = "Vector"
		}
		img = placeholder(p.ThumbnailWidth, label)
	default:
		return "", mediaError(src, nil, "unsupported file type %q", mimeType)
	}
	if err != nil {
		return "", mediaError(src, err, "rendering thumbnail")
	}

	data, err := encode(fit(img, p.ThumbnailWidth, out != "image/png"), out, p.ThumbnailQuality)
	if err != nil {
		return "", mediaError(src, err, "encoding thumbnail")
	}
	slog.Debug("thumbnail rendered", "file", src.Filename, "bytes", len(data))
	return "data:" + out + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
