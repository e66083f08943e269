package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/draw"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// Stamp geometry in PDF points. Every signature image is normalized to this
// box before placement, whatever its captured resolution was.
const (
	StampWidth  = 180
	StampHeight = 65

	// Stamps without an explicit position stack upward from the bottom of
	// the last page.
	fallbackBaseY = 30
	fallbackStepY = 75
)

// Mark is one signature image to place on the document. Page is 1-based.
// When Page, X or Y is nil the mark is stacked at the fallback position on
// the last page.
type Mark struct {
	SignerID string
	Image    []byte
	Page     *int
	X        *float64
	Y        *float64
}

func (m Mark) positioned() bool {
	return m.Page != nil && m.X != nil && m.Y != nil
}

// Finalizer renders signature stamps onto a PDF. Unusable marks are logged
// and skipped so a corrupt signature image never blocks finalization.
type Finalizer struct {
	logger *slog.Logger
}

func NewFinalizer(logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{logger: logger.With("component", "pdf.finalizer")}
}

// Stamp returns a copy of original with every usable mark drawn on it.
// Coordinates are PDF points with the origin at the bottom-left corner of
// the page. If no mark can be applied the original bytes are returned
// unchanged.
func (f *Finalizer) Stamp(original []byte, marks []Mark) ([]byte, error) {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed

	dims, err := api.PageDims(bytes.NewReader(original), conf)
	if err != nil {
		return nil, fmt.Errorf("read page dimensions: %w", err)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: PDF has no pages", model.ErrValidation)
	}
	lastPage := len(dims)

	byPage := map[int][]*pdfmodel.Watermark{}
	fallbacks := 0
	for _, m := range marks {
		img, err := normalizeImage(m.Image)
		if err != nil {
			f.logger.Warn("skipping unusable signature image",
				"signerId", m.SignerID, "error", err)
			continue
		}

		page := lastPage
		var x, y float64
		if m.positioned() {
			page = *m.Page
			if page < 1 || page > lastPage {
				f.logger.Warn("signature position beyond page range, using last page",
					"signerId", m.SignerID, "page", page, "pages", lastPage)
				page = lastPage
			}
			x, y = *m.X, *m.Y
		} else {
			x = (dims[lastPage-1].Width - StampWidth) / 2
			y = fallbackBaseY + float64(fallbacks)*fallbackStepY
			fallbacks++
		}

		desc := fmt.Sprintf("pos:bl, off:%.2f %.2f, scalefactor:1 abs, rot:0", x, y)
		wm, err := api.ImageWatermarkForReader(bytes.NewReader(img), desc, true, false, types.POINTS)
		if err != nil {
			f.logger.Warn("skipping signature stamp",
				"signerId", m.SignerID, "error", err)
			continue
		}
		byPage[page] = append(byPage[page], wm)
	}

	if len(byPage) == 0 {
		f.logger.Warn("no usable signature stamps, finalizing without visual marks")
		out := make([]byte, len(original))
		copy(out, original)
		return out, nil
	}

	var out bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(original), &out, byPage, conf); err != nil {
		return nil, fmt.Errorf("apply signature stamps: %w", err)
	}
	return out.Bytes(), nil
}

// normalizeImage decodes a PNG and rescales it to the stamp box.
func normalizeImage(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty signature image")
	}
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode signature image: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, StampWidth, StampHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode signature image: %w", err)
	}
	return buf.Bytes(), nil
}
