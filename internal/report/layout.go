// Package report turns a final evaluation report into a downloadable PDF.
//
// Assembly runs in two steps. BuildLayout flattens the report into typed,
// word-wrapped lines and splits them into pages; the Assembler then draws
// each page with fpdf. Both steps are pure functions of their input, so the
// same report always yields the same bytes.
package report

import (
	"fmt"
	"strings"

	"github.com/large-farva/compliance-console/internal/events"
)

// LineKind selects the typeface and spacing of a line.
type LineKind int

const (
	KindTitle LineKind = iota
	KindInfo
	KindHeading
	KindSubheading
	KindBullet
	KindParagraph
	KindBlank
)

func (k LineKind) String() string {
	switch k {
	case KindTitle:
		return "title"
	case KindInfo:
		return "info"
	case KindHeading:
		return "heading"
	case KindSubheading:
		return "subheading"
	case KindBullet:
		return "bullet"
	case KindParagraph:
		return "paragraph"
	default:
		return "blank"
	}
}

// Line is one physical line of output. Continuation marks the wrapped tail of
// a bullet, which is indented under the bullet text.
type Line struct {
	Kind         LineKind
	Text         string
	Continuation bool
}

// Page is one page worth of lines.
type Page struct {
	Lines []Line
}

// Layout is a report flattened and paginated.
type Layout struct {
	Title string
	Pages []Page
}

// Geometry bounds the layout. Heights are in millimetres.
type Geometry struct {
	Columns    int
	PageHeight float64
}

// DefaultGeometry fits A4 portrait with 20mm margins at 10pt Helvetica.
var DefaultGeometry = Geometry{Columns: 90, PageHeight: 257}

// DocumentTitle heads every report.
const DocumentTitle = "Compliance Evaluation Report"

// Bullet prefixes metric and legislation lines.
const Bullet = "• "

// Height returns the vertical space a line of kind k takes.
func (k LineKind) Height() float64 {
	switch k {
	case KindTitle:
		return 12
	case KindHeading:
		return 9
	case KindSubheading:
		return 7
	case KindBlank:
		return 3
	default:
		return 5.5
	}
}

// MetricLine formats a computed metric bullet.
func MetricLine(m events.ComputedMetric) string {
	return fmt.Sprintf("%s%s: %s", Bullet, m.Metric, m.Value)
}

// ArticleLine formats a legislation extract bullet.
func ArticleLine(x events.LegislationExtract) string {
	return fmt.Sprintf("%sArticle %s [%s]: %s", Bullet, x.ArticleNumber, x.ArticleTitle, x.Description)
}

// BuildLayout renders doc into pages.
func BuildLayout(doc events.ReportDocument, g Geometry) Layout {
	if g.Columns <= 0 || g.PageHeight <= 0 {
		g = DefaultGeometry
	}
	var lines []Line
	add := func(kind LineKind, text string) {
		lines = append(lines, wrapLine(kind, text, g.Columns)...)
	}

	add(KindTitle, DocumentTitle)
	add(KindInfo, "Model: "+orDash(doc.Info.ModelName))
	add(KindInfo, "Evaluation date: "+orDash(doc.Info.EvaluationDate))
	add(KindInfo, "Dataset: "+orDash(doc.Info.Dataset))

	for _, sec := range doc.Properties {
		lines = append(lines, Line{Kind: KindBlank})
		add(KindHeading, orDash(sec.Property))

		if len(sec.ComputedMetrics) > 0 {
			add(KindSubheading, "Computed metrics")
			for _, m := range sec.ComputedMetrics {
				add(KindBullet, MetricLine(m))
			}
		}
		if len(sec.LegislationExtracts) > 0 {
			add(KindSubheading, "Legislation extracts")
			for _, x := range sec.LegislationExtracts {
				add(KindBullet, ArticleLine(x))
			}
		}
		if len(sec.LLMInsights) > 0 {
			add(KindSubheading, "Insights")
			for i, p := range sec.LLMInsights {
				if i > 0 {
					lines = append(lines, Line{Kind: KindBlank})
				}
				add(KindParagraph, p)
			}
		}
	}

	return Layout{Title: DocumentTitle, Pages: paginate(lines, g.PageHeight)}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// paginate fills pages top to bottom. Headings are kept with the line that
// follows them, and a page never starts with a blank line.
func paginate(lines []Line, height float64) []Page {
	var pages []Page
	var cur Page
	used := 0.0

	flush := func() {
		if len(cur.Lines) > 0 {
			pages = append(pages, cur)
		}
		cur = Page{}
		used = 0
	}

	for i, ln := range lines {
		if ln.Kind == KindBlank && len(cur.Lines) == 0 {
			continue
		}
		need := keepHeight(lines, i)
		if used+need > height && len(cur.Lines) > 0 {
			flush()
			if ln.Kind == KindBlank {
				continue
			}
		}
		cur.Lines = append(cur.Lines, ln)
		used += ln.Kind.Height()
	}
	flush()
	if len(pages) == 0 {
		pages = []Page{{}}
	}
	return pages
}

// keepHeight is the space needed to place lines[i]: its own height, or for a
// run of headings the whole run plus the first line under it.
func keepHeight(lines []Line, i int) float64 {
	need := 0.0
	j := i
	for j < len(lines) && isHeading(lines[j].Kind) {
		need += lines[j].Kind.Height()
		j++
	}
	if j == i {
		return lines[i].Kind.Height()
	}
	if j < len(lines) {
		need += lines[j].Kind.Height()
	}
	return need
}

func isHeading(k LineKind) bool {
	return k == KindHeading || k == KindSubheading
}

// wrapLine splits text on word boundaries into lines of at most cols runes.
// Words longer than a line are cut. Bullet tails are indented under the text.
func wrapLine(kind LineKind, text string, cols int) []Line {
	if kind == KindBlank {
		return []Line{{Kind: kind}}
	}
	indent := ""
	if kind == KindBullet {
		indent = "  "
	}
	wrapped := wrap(text, cols, indent)
	out := make([]Line, len(wrapped))
	for i, s := range wrapped {
		out[i] = Line{Kind: kind, Text: s, Continuation: i > 0 && kind == KindBullet}
	}
	return out
}

func wrap(text string, cols int, indent string) []string {
	var lines []string
	var cur []rune
	fresh := true // no word on cur yet
	push := func() {
		lines = append(lines, string(cur))
		cur = []rune(indent)
		fresh = true
	}

	for _, word := range strings.Fields(text) {
		w := []rune(word)
		if !fresh && len(cur)+1+len(w) > cols {
			push()
		}
		if !fresh {
			cur = append(cur, ' ')
		}
		for len(cur)+len(w) > cols && cols-len(cur) > 0 {
			k := cols - len(cur)
			cur = append(cur, w[:k]...)
			w = w[k:]
			push()
		}
		cur = append(cur, w...)
		fresh = false
	}
	if !fresh || len(lines) == 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
