package camera

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TimestampLayout is burned into every frame, e.g. "Monday 02 January 2006 03:04:05PM".
const TimestampLayout = "Monday 02 January 2006 03:04:05PM"

var (
	timestampColor = color.RGBA{R: 255, A: 255}
	labelColor     = color.RGBA{R: 60, G: 60, B: 60, A: 255}
)

// drawTimestamp writes t at the bottom-left of img, baseline 10px above the edge.
func drawTimestamp(img draw.Image, t time.Time) {
	b := img.Bounds()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(timestampColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(b.Min.X+10, b.Max.Y-10),
	}
	d.DrawString(t.Format(TimestampLayout))
}

// newPlaceholder renders the privacy frame: black with a grey label centered.
func newPlaceholder(width, height int, label string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	if label == "" {
		return img
	}

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	textHeight := face.Height

	text := image.NewRGBA(image.Rect(0, 0, textWidth, textHeight))
	d := &font.Drawer{
		Dst:  text,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(label)

	// The bitmap font is 13px tall; scale it to roughly 1/24 of the frame height.
	scale := height / (24 * textHeight)
	if textWidth*scale > width {
		scale = width / textWidth
	}
	if scale < 1 {
		scale = 1
	}
	var scaled image.Image = text
	if scale > 1 {
		scaled = resize.Resize(uint(textWidth*scale), uint(textHeight*scale), text, resize.NearestNeighbor)
	}

	sb := scaled.Bounds()
	origin := image.Pt((width-sb.Dx())/2, (height-sb.Dy())/2)
	draw.Draw(img, sb.Sub(sb.Min).Add(origin), scaled, sb.Min, draw.Over)
	return img
}

// normalize copies src into a new RGBA of the configured size, rescaling
// when the device delivered a different geometry.
func normalize(src image.Image, width, height int) *image.RGBA {
	b := src.Bounds()
	if b.Dx() != width || b.Dy() != height {
		src = resize.Resize(uint(width), uint(height), src, resize.Bilinear)
		b = src.Bounds()
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func clone(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
