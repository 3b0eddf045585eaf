package scanner

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"

	// Register decoders for the supported library formats. The scanner
	// accepts anything these can parse and re-encodes to JPEG, so the
	// backends see one uniform, metadata-free payload.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ternarybob/narro/internal/backends"
)

// jpegQuality matches the quality the caption APIs are sent; captions do
// not benefit from anything higher.
const jpegQuality = 85

// DecodedImage is the normalized form of one photo, ready for a backend.
type DecodedImage struct {
	Data     []byte
	MimeType string
}

// Decode reads and fully decodes the image at path, then re-encodes it
// as a JPEG. Re-encoding drops EXIF and other metadata and catches
// truncated files that a header sniff would miss. Any read or decode
// failure returns a *backends.DecodeError.
func Decode(path string) (*DecodedImage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &backends.DecodeError{Path: path, Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &backends.DecodeError{Path: path, Err: err}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, &backends.DecodeError{Path: path, Err: err}
	}

	return &DecodedImage{
		Data:     buf.Bytes(),
		MimeType: "image/jpeg",
	}, nil
}
