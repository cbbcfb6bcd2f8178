package screener

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"net/url"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	imprintPadding = 20
	imprintBorder  = 1
)

// AddTextToImage adds the origin of rawURL to the bottom of the image.
func (img Image) AddTextToImage(rawURL string) (Image, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	printURL := parsedURL.Scheme + "://" + parsedURL.Host

	decoded, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	face, err := loadFont()
	if err != nil {
		return nil, err
	}

	w := decoded.Bounds().Dx()
	h := decoded.Bounds().Dy() + imprintPadding*2 + imprintBorder
	dc := gg.NewContext(w, h)

	dc.DrawImage(decoded, 0, 0)

	yLine := float64(decoded.Bounds().Dy())
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine, float64(w), float64(h)-yLine)
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetLineWidth(float64(imprintBorder))
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.Stroke()
	dc.SetFontFace(face)
	dc.DrawStringAnchored(printURL, float64(w)/2, yLine+float64(imprintPadding), 0.5, 0.5)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

var (
	fontOnce   sync.Once
	parsedFont *truetype.Font
	fontErr    error
)

// loadFont returns a new face over the embedded Go regular font. Faces hold
// glyph caches and are not safe for concurrent use, so workers never share one.
func loadFont() (font.Face, error) {
	fontOnce.Do(func() {
		parsedFont, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("failed to parse font: %w", fontErr)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{Size: 14}), nil
}
