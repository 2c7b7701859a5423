package media

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
)

// Compress re-encodes an image as JPEG at the given quality when its size
// exceeds maxSizeMB. Smaller payloads come back byte-identical, so running
// the step twice changes nothing. Any decode or encode failure falls back to
// the original bytes: a large original is still a valid submission, a broken
// one is the ERP's problem to reject.
func Compress(data []byte, quality, maxSizeMB int) []byte {
	if len(data) <= maxSizeMB*1024*1024 {
		return data
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	// JPEG has no alpha channel; flatten onto white like a printed page.
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, flat, &jpeg.Options{Quality: quality}); err != nil {
		return data
	}
	return out.Bytes()
}
