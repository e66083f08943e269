// Package pdf inspects uploaded PDFs and renders the finalized document
// with visual signature stamps.
package pdf

import (
	"bytes"
	"fmt"

	dpdf "github.com/dslipak/pdf"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// Info parses data as a PDF and returns its page count. Anything the parser
// rejects maps to model.ErrValidation: the upload endpoint surfaces it as a
// client error.
func Info(data []byte) (pages int, err error) {
	// The parser panics on some malformed cross-reference tables; those
	// inputs are invalid uploads, not server faults.
	defer func() {
		if r := recover(); r != nil {
			pages = 0
			err = fmt.Errorf("%w: malformed PDF: %v", model.ErrValidation, r)
		}
	}()

	reader, rerr := dpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if rerr != nil {
		return 0, fmt.Errorf("%w: not a valid PDF: %v", model.ErrValidation, rerr)
	}
	n := reader.NumPage()
	if n < 1 {
		return 0, fmt.Errorf("%w: PDF has no pages", model.ErrValidation)
	}
	return n, nil
}
