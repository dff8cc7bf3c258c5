package classifier

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// InputSize is the square spatial resolution the network consumes.
const InputSize = 224

// MaxImagePixels bounds width*height of an accepted image. Decoding
// allocates the full pixel buffer declared by the header.
const MaxImagePixels = 36_000_000

var (
	ChannelMean = [3]float32{0.485, 0.456, 0.406}
	ChannelStd  = [3]float32{0.229, 0.224, 0.225}
)

// DecodeBase64 accepts standard base64 with or without padding, optionally
// wrapped in a data URL and broken across lines.
func DecodeBase64(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("decode base64 image: %w", err)
		}
		data = raw
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("decode base64 image: empty payload")
	}
	return data, nil
}

// DecodeImage decodes raw bytes and drops any alpha channel, keeping the
// stored color values. Images larger than MaxImagePixels are rejected before
// the pixel data is decoded.
func DecodeImage(data []byte) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode image: invalid %s dimensions %dx%d", format, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, fmt.Errorf("decode image: %dx%d %s exceeds %d pixel limit", cfg.Width, cfg.Height, format, MaxImagePixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return toRGB(img), nil
}

type opaquer interface {
	Opaque() bool
}

func toRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.NRGBA:
		dst := image.NewNRGBA(rect)
		for y := 0; y < rect.Dy(); y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], row)
		}
		for i := 3; i < len(dst.Pix); i += 4 {
			dst.Pix[i] = 0xff
		}
		return dst
	case opaquer:
		// Premultiplied and straight alpha agree when every pixel is opaque.
		if src.Opaque() {
			rgba := image.NewRGBA(rect)
			draw.Draw(rgba, rect, img, b.Min, draw.Src)
			return &image.NRGBA{Pix: rgba.Pix, Stride: rgba.Stride, Rect: rgba.Rect}
		}
	}
	dst := image.NewNRGBA(rect)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			dst.SetNRGBA(x-b.Min.X, y-b.Min.Y, c)
		}
	}
	return dst
}

// ToTensor resizes img to InputSize x InputSize and returns a CHW float32
// buffer scaled to [0,1] and normalized per channel.
func ToTensor(img image.Image) []float32 {
	resized := resize.Resize(InputSize, InputSize, img, resize.Bilinear)
	b := resized.Bounds()
	plane := InputSize * InputSize
	out := make([]float32, 3*plane)
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			idx := y*InputSize + x
			out[idx] = normalize(r, 0)
			out[plane+idx] = normalize(g, 1)
			out[2*plane+idx] = normalize(bl, 2)
		}
	}
	return out
}

func normalize(v uint32, channel int) float32 {
	scaled := float32(v>>8) / 255.0
	return (scaled - ChannelMean[channel]) / ChannelStd[channel]
}

// PrepareImage runs the full payload-to-tensor path.
func PrepareImage(payload string) ([]float32, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return ToTensor(img), nil
}
