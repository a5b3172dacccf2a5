package report

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/large-farva/compliance-console/internal/events"
	"github.com/large-farva/compliance-console/internal/logging"
)

// ErrNoPayload is returned for a report with neither info nor properties.
var ErrNoPayload = errors.New("report has no payload")

// ContentType of every artifact.
const ContentType = "application/pdf"

// fixedDate is stamped into every PDF so output does not depend on the clock.
var fixedDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	marginMM  = 20.0
	bodyPt    = 10.0
	bulletTab = 4.0
)

// Artifact is a rendered report ready to be saved.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Save writes the artifact into dir, creating it if needed, and returns the
// full path.
func (a Artifact) Save(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, a.Filename)
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithGeometry overrides the page geometry.
func WithGeometry(g Geometry) Option {
	return func(a *Assembler) { a.geom = g }
}

// WithAuthor sets the PDF author field.
func WithAuthor(author string) Option {
	return func(a *Assembler) { a.author = author }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.log = l }
}

// Assembler renders report documents. It holds no per-report state and is
// safe for concurrent use.
type Assembler struct {
	geom   Geometry
	author string
	log    *slog.Logger
}

// NewAssembler returns an Assembler with A4 defaults.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{geom: DefaultGeometry, author: "compliance-console"}
	for _, o := range opts {
		o(a)
	}
	a.log = logging.OrDiscard(a.log)
	return a
}

// Assemble lays doc out and renders it to PDF. Identical documents produce
// byte-identical artifacts.
func (a *Assembler) Assemble(doc events.ReportDocument) (Artifact, error) {
	if doc.Info == (events.ReportInfo{}) && len(doc.Properties) == 0 {
		return Artifact{}, ErrNoPayload
	}
	layout := BuildLayout(doc, a.geom)
	data, err := a.render(layout, doc.Info)
	if err != nil {
		return Artifact{}, fmt.Errorf("render report: %w", err)
	}
	art := Artifact{
		Filename:    Filename(doc.Info),
		ContentType: ContentType,
		Data:        data,
	}
	a.log.Info("report assembled", "file", art.Filename, "pages", len(layout.Pages), "bytes", len(data))
	return art, nil
}

func (a *Assembler) render(layout Layout, info events.ReportInfo) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(fixedDate)
	pdf.SetModificationDate(fixedDate)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(false, marginMM)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(layout.Title), false)
	pdf.SetAuthor(tr(a.author), false)
	if info.ModelName != "" {
		pdf.SetSubject(tr(info.ModelName), false)
	}

	width, height := pdf.GetPageSize()
	textWidth := width - 2*marginMM
	total := len(layout.Pages)

	for n, page := range layout.Pages {
		pdf.AddPage()
		for _, ln := range page.Lines {
			h := ln.Kind.Height()
			if ln.Kind == KindBlank {
				pdf.Ln(h)
				continue
			}
			setFont(pdf, ln.Kind)
			x := marginMM
			if ln.Continuation {
				x += bulletTab
			}
			pdf.SetX(x)
			pdf.CellFormat(textWidth-(x-marginMM), h, tr(strings.TrimLeft(ln.Text, " ")), "", 1, "L", false, 0, "")
		}
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetXY(marginMM, height-marginMM+6)
		pdf.CellFormat(textWidth, 4, fmt.Sprintf("Page %d of %d", n+1, total), "", 0, "C", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setFont(pdf *fpdf.Fpdf, k LineKind) {
	switch k {
	case KindTitle:
		pdf.SetFont("Helvetica", "B", 18)
	case KindHeading:
		pdf.SetFont("Helvetica", "B", 14)
	case KindSubheading:
		pdf.SetFont("Helvetica", "B", 11)
	case KindInfo:
		pdf.SetFont("Helvetica", "", 11)
	default:
		pdf.SetFont("Helvetica", "", bodyPt)
	}
}

var unsafeName = regexp.MustCompile(`[^a-z0-9._-]+`)

// Filename derives the artifact name from the model name and evaluation
// date, e.g. "compliance-report-acme-gpt-2024-05-01.pdf".
func Filename(info events.ReportInfo) string {
	parts := []string{"compliance-report"}
	for _, s := range []string{info.ModelName, info.EvaluationDate} {
		s = unsafeName.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
		s = strings.Trim(s, "-.")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "-") + ".pdf"
}
