// Package badge renders shields-style SVG badges.
package badge

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"

	"github.com/cronnarc/cronguard/internal/model"
	"github.com/cronnarc/cronguard/internal/uptime"
)

const (
	ColorBrightGreen = "#4c1"
	ColorGreen       = "#97ca00"
	ColorYellow      = "#dfb317"
	ColorOrange      = "#fe7d37"
	ColorRed         = "#e05d44"
	ColorGrey        = "#9f9f9f"
)

// approximate Verdana 11px advance
const (
	charWidth = 7
	padding   = 10
)

type Badge struct {
	Label string
	Value string
	Color string
}

// ColorForUptime maps an uptime percentage to a badge colour.
func ColorForUptime(pct float64) string {
	switch {
	case pct >= 99.9:
		return ColorBrightGreen
	case pct >= 99:
		return ColorGreen
	case pct >= 95:
		return ColorYellow
	case pct >= 90:
		return ColorOrange
	default:
		return ColorRed
	}
}

// FormatPercent prints pct with up to two decimals and no trailing zeros.
func FormatPercent(pct float64) string {
	s := strconv.FormatFloat(uptime.Round(pct, 2), 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return s + "%"
}

func Uptime(pct float64, w uptime.WindowName) Badge {
	label := "uptime"
	if w != "" && w != uptime.Window30d {
		label = "uptime " + string(w)
	}
	return Badge{Label: label, Value: FormatPercent(pct), Color: ColorForUptime(pct)}
}

func Status(s model.MonitorStatus) Badge {
	b := Badge{Label: "status"}
	switch s {
	case model.StatusHealthy:
		b.Value, b.Color = "up", ColorBrightGreen
	case model.StatusRunning:
		b.Value, b.Color = "running", ColorBrightGreen
	case model.StatusLate:
		b.Value, b.Color = "late", ColorYellow
	case model.StatusDown:
		b.Value, b.Color = "down", ColorRed
	case model.StatusFailed:
		b.Value, b.Color = "failed", ColorRed
	case model.StatusPaused:
		b.Value, b.Color = "paused", ColorGrey
	default:
		b.Value, b.Color = "pending", ColorGrey
	}
	return b
}

var svgTemplate = template.Must(template.New("badge").Funcs(template.FuncMap{
	"half": func(n int) int { return n / 2 },
}).Parse(`<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="20" role="img" aria-label="{{.Label}}: {{.Value}}">
<title>{{.Label}}: {{.Value}}</title>
<linearGradient id="s" x2="0" y2="100%"><stop offset="0" stop-color="#bbb" stop-opacity=".1"/><stop offset="1" stop-opacity=".1"/></linearGradient>
<clipPath id="r"><rect width="{{.Width}}" height="20" rx="3" fill="#fff"/></clipPath>
<g clip-path="url(#r)">
<rect width="{{.LabelWidth}}" height="20" fill="#555"/>
<rect x="{{.LabelWidth}}" width="{{.ValueWidth}}" height="20" fill="{{.Color}}"/>
<rect width="{{.Width}}" height="20" fill="url(#s)"/>
</g>
<g fill="#fff" text-anchor="middle" font-family="Verdana,Geneva,DejaVu Sans,sans-serif" font-size="11">
<text x="{{half .LabelWidth}}" y="14">{{.Label}}</text>
<text x="{{.ValueX}}" y="14">{{.Value}}</text>
</g>
</svg>
`))

type layout struct {
	Badge
	Width      int
	LabelWidth int
	ValueWidth int
	ValueX     int
}

// SVG renders b. Label and value are XML-escaped.
func (b Badge) SVG() []byte {
	l := layout{
		Badge: Badge{
			Label: escape(b.Label),
			Value: escape(b.Value),
			Color: b.Color,
		},
		LabelWidth: textWidth(b.Label),
		ValueWidth: textWidth(b.Value),
	}
	l.Width = l.LabelWidth + l.ValueWidth
	l.ValueX = l.LabelWidth + l.ValueWidth/2

	var buf bytes.Buffer
	// the template only formats ints and pre-escaped strings
	_ = svgTemplate.Execute(&buf, l)
	return buf.Bytes()
}

func textWidth(s string) int {
	return len([]rune(s))*charWidth + padding
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escape(s string) string {
	return xmlEscaper.Replace(s)
}
