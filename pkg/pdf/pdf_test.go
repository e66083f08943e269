package pdf_test

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/pdf"
)

// buildPDF writes a minimal letter-sized PDF with the given page count.
// Offsets in the cross-reference table are taken from the buffer as objects
// are emitted, so the fixture is valid by construction.
func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()

	var buf bytes.Buffer
	var offsets []int

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	contentObj := 3 + pages

	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents %d 0 R >>", contentObj))
	}
	stream := "BT ET"
	writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))

	xrefAt := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefAt)

	return buf.Bytes()
}

// buildPNG renders an opaque gradient so the stamp has real pixel data.
func buildPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x40, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func quietFinalizer() *pdf.Finalizer {
	return pdf.NewFinalizer(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInfoCountsPages(t *testing.T) {
	for _, n := range []int{1, 3, 7} {
		got, err := pdf.Info(buildPDF(t, n))
		require.NoError(t, err)
		require.Equal(t, n, got)
	}
}

func TestInfoRejectsNonPDF(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte(""),
		[]byte("plain text, definitely not a document"),
		[]byte("%PDF-1.4 truncated before any xref"),
	} {
		_, err := pdf.Info(data)
		require.ErrorIs(t, err, model.ErrValidation)
	}
}

func TestStampPositionedAndStacked(t *testing.T) {
	original := buildPDF(t, 3)
	sig := buildPNG(t, 300, 100)

	page := 2
	x, y := 120.5, 44.25
	marks := []pdf.Mark{
		{SignerID: "s-1", Image: sig, Page: &page, X: &x, Y: &y},
		{SignerID: "s-2", Image: sig},
		{SignerID: "s-3", Image: sig},
	}

	stamped, err := quietFinalizer().Stamp(original, marks)
	require.NoError(t, err)
	require.NotEqual(t, original, stamped)

	pages, err := pdf.Info(stamped)
	require.NoError(t, err)
	require.Equal(t, 3, pages, "stamping must not add or drop pages")
}

func TestStampClampsPageOutOfRange(t *testing.T) {
	original := buildPDF(t, 2)
	page := 9
	x, y := 10.0, 10.0
	marks := []pdf.Mark{{SignerID: "s-1", Image: buildPNG(t, 64, 64), Page: &page, X: &x, Y: &y}}

	stamped, err := quietFinalizer().Stamp(original, marks)
	require.NoError(t, err)

	pages, err := pdf.Info(stamped)
	require.NoError(t, err)
	require.Equal(t, 2, pages)
}

func TestStampSkipsUnusableImages(t *testing.T) {
	original := buildPDF(t, 1)
	marks := []pdf.Mark{
		{SignerID: "s-1"},
		{SignerID: "s-2", Image: []byte("not a png")},
	}

	out, err := quietFinalizer().Stamp(original, marks)
	require.NoError(t, err, "bad signature images must not abort finalization")
	require.Equal(t, original, out)
}

func TestStampWithoutMarksReturnsOriginal(t *testing.T) {
	original := buildPDF(t, 1)
	out, err := quietFinalizer().Stamp(original, nil)
	require.NoError(t, err)
	require.Equal(t, original, out)
}

func TestStampRejectsGarbageInput(t *testing.T) {
	_, err := quietFinalizer().Stamp([]byte("nope"), []pdf.Mark{{SignerID: "s-1", Image: buildPNG(t, 8, 8)}})
	require.Error(t, err)
}
