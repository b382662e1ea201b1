package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// fit scales src down so its width is at most maxWidth, drawing onto a
// white background when flatten is set.
func fit(src image.Image, maxWidth int, flatten bool) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
	}
	return resize(src, w, h, flatten)
}

func resize(src image.Image, w, h int, flatten bool) *image.RGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if flatten {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

func encode(img image.Image, mimeType string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if mimeType == "image/png" {
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// compress re-encodes src until it fits in target bytes: first lowering
// JPEG quality from 70 in steps of 10, then shrinking the image by 20%
// until it reaches minWidth.
func compress(src image.Image, c Compression, mimeType string) ([]byte, error) {
	flatten := mimeType != "image/png"
	img := fit(src, c.MaxWidth, flatten)

	out, err := encodeDownToTarget(img, mimeType, c.TargetBytes)
	if err != nil {
		return nil, err
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for len(out) > c.TargetBytes && w > c.MinWidth {
		w = w * 8 / 10
		h = h * 8 / 10
		img = resize(src, w, h, flatten)
		if out, err = encodeDownToTarget(img, mimeType, c.TargetBytes); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeDownToTarget(img image.Image, mimeType string, target int) ([]byte, error) {
	quality := 70
	out, err := encode(img, mimeType, quality)
	if err != nil {
		return nil, err
	}
	for len(out) > target && quality > 10 && mimeType != "image/png" {
		quality -= 10
		if out, err = encode(img, mimeType, quality); err != nil {
			return nil, err
		}
	}
	return out, nil
}
