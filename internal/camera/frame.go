package camera

import (
	"bytes"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
)

// Frame is one recompressed still ready for submission.
type Frame struct {
	ID         string
	Device     string
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Recompress decodes a JPEG, shrinks it to maxWidth when wider, and
// re-encodes it at quality.
func Recompress(data []byte, maxWidth, quality int) ([]byte, int, int, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode frame: %w", err)
	}
	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, 0, 0, fmt.Errorf("encode frame: %w", err)
	}
	bounds := img.Bounds()
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}
