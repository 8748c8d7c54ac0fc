package face

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// Image is a decoded capture together with the encoded bytes it came from.
type Image struct {
	Pixels image.Image
	Format string
	Raw    []byte
}

// DecodeImage decodes a base64 image payload. Anything up to and including
// the last comma (a data-URI header) is discarded.
func DecodeImage(payload string) (*Image, error) {
	if i := strings.LastIndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrInvalidImage, err)
		}
	}
	return DecodeBytes(raw)
}

// DecodeBytes decodes already-binary image data, e.g. a stored face.
func DecodeBytes(raw []byte) (*Image, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}

	return &Image{Pixels: img, Format: format, Raw: raw}, nil
}

// ContentType returns the MIME type of the encoded bytes.
func (i *Image) ContentType() string {
	return "image/" + i.Format
}
