package scene

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// PNGOptions configures PNG export.
type PNGOptions struct {
	Width       int
	Height      int
	Padding     int
	Background  string
	Supersample int // render scale before downsampling, 1 disables
}

// DefaultPNGOptions returns sensible defaults for PNG export.
func DefaultPNGOptions() PNGOptions {
	return PNGOptions{
		Width:       1200,
		Height:      800,
		Padding:     40,
		Background:  "#0f172a",
		Supersample: 2,
	}
}

type pngContext struct {
	img   *image.RGBA
	proj  projection
	scale float64
	face  font.Face
}

// RenderPNG renders a scene snapshot as PNG. Drawing happens at Supersample
// times the target size and is scaled down with Catmull-Rom filtering.
func RenderPNG(w io.Writer, snap Snapshot, opts PNGOptions) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("invalid png size %dx%d", opts.Width, opts.Height)
	}
	scale := opts.Supersample
	if scale < 1 {
		scale = 1
	}

	fnt, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    float64(10 * scale),
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return fmt.Errorf("create font face: %w", err)
	}
	defer face.Close()

	bigW, bigH := opts.Width*scale, opts.Height*scale
	ctx := &pngContext{
		img:   image.NewRGBA(image.Rect(0, 0, bigW, bigH)),
		proj:  newProjection(snap, float64(bigW), float64(bigH), float64(opts.Padding*scale)),
		scale: float64(scale),
		face:  face,
	}

	if opts.Background != "" {
		draw.Draw(ctx.img, ctx.img.Bounds(), image.NewUniform(parseHexColor(opts.Background, 1)), image.Point{}, draw.Src)
	}

	for _, l := range layerOrder(snap.Layers) {
		for _, e := range l.Elements {
			ctx.drawElement(e)
		}
		for _, m := range l.Markers {
			ctx.drawMarker(m)
		}
	}

	if scale == 1 {
		return png.Encode(w, ctx.img)
	}
	final := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.CatmullRom.Scale(final, final.Bounds(), ctx.img, ctx.img.Bounds(), draw.Over, nil)
	return png.Encode(w, final)
}

func (c *pngContext) drawElement(e Element) {
	switch e.Type {
	case ElementStroke:
		col := parseHexColor(colorOr(e.Style.Color, "#38bdf8"), opacityOr(e.Style.Opacity))
		width := math.Max(e.Style.Width, 1) * c.scale
		for i := 1; i < len(e.Points); i++ {
			x1, y1 := c.proj.apply(e.Points[i-1])
			x2, y2 := c.proj.apply(e.Points[i])
			c.line(x1, y1, x2, y2, width, col)
		}
	case ElementMarker:
		x, y := c.proj.apply(e.Position)
		r := math.Max(e.Style.Radius, 1) * c.scale
		c.disc(x, y, r, parseHexColor(colorOr(e.Style.Fill, "#e2e8f0"), opacityOr(e.Style.Opacity)))
	case ElementLabel:
		x, y := c.proj.apply(e.Position)
		c.text(int(x), int(y), e.Text, parseHexColor(colorOr(e.Style.Color, "#e2e8f0"), 1))
	}
}

func (c *pngContext) drawMarker(m Marker) {
	x, y := c.proj.apply(m.Position)
	r := math.Max(m.Style.Radius, 4) * c.scale
	col := parseHexColor(colorOr(m.Style.Fill, "#f97316"), 1)
	c.disc(x, y, r, col)
	// heading tick
	hx := x + math.Cos(m.Rotation)*r*1.6
	hy := y + math.Sin(m.Rotation)*r*1.6
	c.line(x, y, hx, hy, c.scale*2, col)
	if m.Label != "" {
		c.text(int(x), int(y-r-4*c.scale), m.Label, parseHexColor("#fde68a", 1))
	}
}

func (c *pngContext) line(x1, y1, x2, y2, thickness float64, col color.NRGBA) {
	dx, dy := x2-x1, y2-y1
	dist := math.Hypot(dx, dy)
	half := thickness / 2
	if dist < 1 {
		c.disc(x1, y1, half, col)
		return
	}
	perpX, perpY := -dy/dist, dx/dist
	steps := math.Max(math.Abs(dx), math.Abs(dy))
	seen := make(map[image.Point]struct{})
	for i := 0.0; i <= steps; i++ {
		t := i / steps
		cx, cy := x1+dx*t, y1+dy*t
		for off := -half; off <= half; off += 0.5 {
			p := image.Point{X: int(cx + perpX*off), Y: int(cy + perpY*off)}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			c.blend(p.X, p.Y, col)
		}
	}
}

func (c *pngContext) disc(cx, cy, r float64, col color.NRGBA) {
	for y := int(cy - r); y <= int(cy+r); y++ {
		for x := int(cx - r); x <= int(cx+r); x++ {
			if math.Hypot(float64(x)-cx, float64(y)-cy) <= r {
				c.blend(x, y, col)
			}
		}
	}
}

func (c *pngContext) text(x, y int, s string, col color.NRGBA) {
	width := font.MeasureString(c.face, s).Ceil()
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.Point26_6{X: fixed.I(x - width/2), Y: fixed.I(y)},
	}
	d.DrawString(s)
}

// blend composites col over the pixel at x,y.
func (c *pngContext) blend(x, y int, col color.NRGBA) {
	if !(image.Point{X: x, Y: y}).In(c.img.Bounds()) {
		return
	}
	a := float64(col.A) / 255
	dst := c.img.RGBAAt(x, y)
	mix := func(s, d uint8) uint8 {
		return uint8(math.Round(float64(s)*a + float64(d)*(1-a)))
	}
	c.img.SetRGBA(x, y, color.RGBA{
		R: mix(col.R, dst.R),
		G: mix(col.G, dst.G),
		B: mix(col.B, dst.B),
		A: uint8(math.Min(255, float64(col.A)+float64(dst.A)*(1-a))),
	})
}

// parseHexColor parses #rgb or #rrggbb; anything else is mid grey.
func parseHexColor(s string, opacity float64) color.NRGBA {
	out := color.NRGBA{R: 128, G: 128, B: 128, A: uint8(math.Round(255 * opacity))}
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return out
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return out
	}
	out.R = uint8(v >> 16)
	out.G = uint8(v >> 8)
	out.B = uint8(v)
	return out
}
