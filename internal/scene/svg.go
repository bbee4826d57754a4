package scene

import (
	"fmt"
	"html"
	"math"
	"strings"
)

// SVGOptions controls SVG export.
type SVGOptions struct {
	Width      int     // canvas width in pixels
	Height     int     // canvas height in pixels
	Padding    int     // padding around the plane
	Background string  // fill colour, empty for transparent
	Title      string  // optional title drawn top-left
	LabelScale float64 // multiplier applied to label font sizes
}

// DefaultSVGOptions returns sensible defaults.
func DefaultSVGOptions() SVGOptions {
	return SVGOptions{
		Width:      1200,
		Height:     800,
		Padding:    40,
		Background: "#0f172a",
		LabelScale: 1,
	}
}

// RenderSVG renders a scene snapshot to an SVG document.
func RenderSVG(snap Snapshot, opts SVGOptions) string {
	if opts.Width == 0 {
		opts.Width = 1200
	}
	if opts.Height == 0 {
		opts.Height = 800
	}
	if opts.LabelScale == 0 {
		opts.LabelScale = 1
	}
	proj := newProjection(snap, float64(opts.Width), float64(opts.Height), float64(opts.Padding))

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		opts.Width, opts.Height, opts.Width, opts.Height)
	if opts.Background != "" {
		fmt.Fprintf(&sb, `<rect width="100%%" height="100%%" fill="%s"/>`+"\n", html.EscapeString(opts.Background))
	}
	if opts.Title != "" {
		fmt.Fprintf(&sb, `<text x="10" y="20" font-family="sans-serif" font-size="16" fill="#e2e8f0">%s</text>`+"\n",
			html.EscapeString(opts.Title))
	}

	for _, l := range layerOrder(snap.Layers) {
		fmt.Fprintf(&sb, `<g class="layer layer-%s" data-handle="%s">`+"\n", l.Kind, l.Handle)
		for _, e := range l.Elements {
			writeSVGElement(&sb, proj, e, opts)
		}
		for _, m := range l.Markers {
			writeSVGMarker(&sb, proj, m)
		}
		sb.WriteString("</g>\n")
	}

	sb.WriteString("</svg>\n")
	return sb.String()
}

func writeSVGElement(sb *strings.Builder, proj projection, e Element, opts SVGOptions) {
	switch e.Type {
	case ElementStroke:
		if len(e.Points) < 2 {
			return
		}
		pts := make([]string, len(e.Points))
		for i, p := range e.Points {
			x, y := proj.apply(p)
			pts[i] = fmt.Sprintf("%.2f,%.2f", x, y)
		}
		fmt.Fprintf(sb, `<polyline points="%s" fill="none" stroke="%s" stroke-width="%.2f" stroke-opacity="%.2f" stroke-linecap="round" stroke-linejoin="round"/>`+"\n",
			strings.Join(pts, " "), colorOr(e.Style.Color, "#38bdf8"), e.Style.Width, opacityOr(e.Style.Opacity))

	case ElementMarker:
		x, y := proj.apply(e.Position)
		r := math.Max(e.Style.Radius, 1)
		attrs := ""
		if e.Target != "" {
			attrs = fmt.Sprintf(` data-target="%s"`, html.EscapeString(e.Target))
		}
		if e.Style.Icon == "camera" || e.Style.Icon == "camera-offline" {
			fmt.Fprintf(sb, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" rx="2" fill="%s" fill-opacity="%.2f"%s>`,
				x-r, y-r*0.7, 2*r, 1.4*r, colorOr(e.Style.Fill, "#94a3b8"), opacityOr(e.Style.Opacity), attrs)
			writeSVGTitle(sb, e.Tooltip)
			sb.WriteString("</rect>\n")
			return
		}
		fmt.Fprintf(sb, `<circle cx="%.2f" cy="%.2f" r="%.2f" fill="%s" fill-opacity="%.2f" stroke="%s"%s>`,
			x, y, r, colorOr(e.Style.Fill, "#e2e8f0"), opacityOr(e.Style.Opacity), colorOr(e.Style.Color, "none"), attrs)
		writeSVGTitle(sb, e.Tooltip)
		sb.WriteString("</circle>\n")

	case ElementLabel:
		x, y := proj.apply(e.Position)
		size := e.Style.FontSize * opts.LabelScale
		if size <= 0 {
			size = 10
		}
		fmt.Fprintf(sb, `<text x="%.2f" y="%.2f" font-family="sans-serif" font-size="%.1f" fill="%s" text-anchor="middle">%s</text>`+"\n",
			x, y, size, colorOr(e.Style.Color, "#e2e8f0"), html.EscapeString(e.Text))
	}
}

func writeSVGMarker(sb *strings.Builder, proj projection, m Marker) {
	x, y := proj.apply(m.Position)
	r := math.Max(m.Style.Radius, 4)
	deg := m.Rotation * 180 / math.Pi
	fmt.Fprintf(sb, `<g class="marker" data-id="%s" transform="translate(%.2f,%.2f) rotate(%.2f)">`,
		html.EscapeString(m.ID), x, y, deg)
	fmt.Fprintf(sb, `<polygon points="%.2f,0 %.2f,%.2f %.2f,%.2f" fill="%s">`,
		r, -r*0.7, r*0.7, -r*0.7, -r*0.7, colorOr(m.Style.Fill, "#f97316"))
	writeSVGTitle(sb, m.Tooltip)
	sb.WriteString("</polygon></g>\n")
	if m.Label != "" {
		fmt.Fprintf(sb, `<text x="%.2f" y="%.2f" font-family="sans-serif" font-size="10" fill="#fde68a" text-anchor="middle">%s</text>`+"\n",
			x, y-r-4, html.EscapeString(m.Label))
	}
}

func writeSVGTitle(sb *strings.Builder, tooltip string) {
	if tooltip != "" {
		fmt.Fprintf(sb, "<title>%s</title>", html.EscapeString(tooltip))
	}
}

func colorOr(c, fallback string) string {
	if c == "" {
		return fallback
	}
	return html.EscapeString(c)
}

func opacityOr(o float64) float64 {
	if o <= 0 || o > 1 {
		return 1
	}
	return o
}
