package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/bbrks/go-blurhash"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// blurHashSize is the target size for BlurHash computation.
// A small thumbnail produces nearly identical results at a fraction of the cost.
const blurHashSize = 64

// MaxImagePixels bounds the decoded size of a fetched image. The byte cap on
// downloads does not limit what a compressed header can declare.
const MaxImagePixels = 40_000_000

// decodable lists the formats registered with the image package.
var decodable = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp"}

// ImageInfo describes validated image bytes.
type ImageInfo struct {
	ContentType string
	Width       int
	Height      int
	BlurHash    string
}

// Inspect verifies data is an image. Relays and misconfigured hosts often
// answer with HTML error pages, so the bytes are sniffed rather than trusting
// the response header. Raster formats are decoded for dimensions and a
// BlurHash; formats without a decoder (SVG, AVIF) are accepted as-is.
func Inspect(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, fmt.Errorf("%w: empty body", ErrNotImage)
	}

	mt := mimetype.Detect(data)
	ct := mt.String()
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if !strings.HasPrefix(ct, "image/") {
		return ImageInfo{}, fmt.Errorf("%w: detected %s", ErrNotImage, ct)
	}

	info := ImageInfo{ContentType: ct}
	if !isDecodable(ct) {
		return info, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: corrupt %s: %v", ErrNotImage, ct, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return ImageInfo{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrNotImage, cfg.Width, cfg.Height, MaxImagePixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: corrupt %s: %v", ErrNotImage, ct, err)
	}
	b := img.Bounds()
	info.Width, info.Height = b.Dx(), b.Dy()

	// 4 horizontal, 3 vertical components
	if hash, err := blurhash.Encode(4, 3, resizeForBlurHash(img)); err == nil {
		info.BlurHash = hash
	}
	return info, nil
}

func isDecodable(ct string) bool {
	for _, d := range decodable {
		if ct == d {
			return true
		}
	}
	return false
}

// resizeForBlurHash creates a small thumbnail suitable for BlurHash computation.
// Uses nearest-neighbor scaling which is fast and sufficient for a placeholder.
func resizeForBlurHash(img image.Image) image.Image {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	if srcWidth <= blurHashSize && srcHeight <= blurHashSize {
		return img
	}

	var dstWidth, dstHeight int
	if srcWidth > srcHeight {
		dstWidth = blurHashSize
		dstHeight = max((srcHeight*blurHashSize)/srcWidth, 1)
	} else {
		dstHeight = blurHashSize
		dstWidth = max((srcWidth*blurHashSize)/srcHeight, 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	xRatio := float64(srcWidth) / float64(dstWidth)
	yRatio := float64(srcHeight) / float64(dstHeight)

	for y := 0; y < dstHeight; y++ {
		for x := 0; x < dstWidth; x++ {
			srcX := int(float64(x) * xRatio)
			srcY := int(float64(y) * yRatio)
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}
	return dst
}
