// Package pdfpage turns a PDF document into one PNG rendition per page. The
// renditions are blank canvases sized after each page's media box; they give
// every page an addressable image for the per-page embedding workflow.
package pdfpage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/dslipak/pdf"

	errorsx "github.com/instill-ai/x/errors"
)

// US Letter in PDF points, used when a page doesn't declare a media box.
const (
	DefaultWidth  = 612
	DefaultHeight = 792

	// maxSide bounds the rendition so a hostile media box can't exhaust
	// memory.
	maxSide = 4096

	maxTreeDepth = 32

	// DefaultMaxPages bounds the pages of a single document.
	DefaultMaxPages = 500

	// nodesPerPage bounds the page tree nodes visited per accepted page.
	nodesPerPage = 4
)

// ContentType of every rendition.
const ContentType = "image/png"

// Page is the rendition of a single PDF page.
type Page struct {
	Number int // 1-based
	Width  int
	Height int
	PNG    []byte
}

// Option customizes how a document is read.
type Option func(*options)

type options struct {
	maxPages int
}

// WithMaxPages rejects documents with more than n pages. Zero or less keeps
// DefaultMaxPages.
func WithMaxPages(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPages = n
		}
	}
}

// Count returns the number of pages in a PDF document. Pages are counted by
// walking the page tree; the declared /Count is ignored.
func Count(data []byte, opts ...Option) (int, error) {
	leaves, err := pageTree(data, opts)
	if err != nil {
		return 0, err
	}
	return len(leaves), nil
}

// Split renders every page of a PDF document. A document without pages, or
// with more pages than allowed, is an invalid argument.
func Split(data []byte, opts ...Option) (pages []Page, err error) {
	leaves, err := pageTree(data, opts)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			pages, err = nil, invalidPDF(fmt.Errorf("%v", p))
		}
	}()

	pages = make([]Page, 0, len(leaves))
	for i, leaf := range leaves {
		w, h := pageSize(leaf)
		img, err := Blank(w, h)
		if err != nil {
			return nil, fmt.Errorf("rendering page %d: %w", i+1, err)
		}
		pages = append(pages, Page{Number: i + 1, Width: w, Height: h, PNG: img})
	}
	return pages, nil
}

// pageTree opens a document and returns its page dictionaries in order.
func pageTree(data []byte, opts []Option) (leaves []pdf.Value, err error) {
	o := options{maxPages: DefaultMaxPages}
	for _, opt := range opts {
		opt(&o)
	}

	r, err := open(data)
	if err != nil {
		return nil, err
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			leaves, err = nil, invalidPDF(fmt.Errorf("%v", p))
		}
	}()

	w := &treeWalker{maxPages: o.maxPages, budget: o.maxPages*nodesPerPage + maxTreeDepth}
	if err := w.walk(r.Trailer().Key("Root").Key("Pages"), 0); err != nil {
		return nil, err
	}
	if len(w.leaves) == 0 {
		return nil, errorsx.AddMessage(
			fmt.Errorf("%w: PDF has no pages", errorsx.ErrInvalidArgument),
			"The PDF document has no pages.",
		)
	}
	return w.leaves, nil
}

// treeWalker collects the leaves of a page tree. Values carry no public
// object identity, so cycles and shared subtrees are cut by a visit budget
// and a depth bound rather than a visited set.
type treeWalker struct {
	leaves   []pdf.Value
	maxPages int
	budget   int
}

func (w *treeWalker) walk(node pdf.Value, depth int) error {
	if node.Kind() != pdf.Dict {
		return nil
	}
	if depth > maxTreeDepth {
		return invalidPDF(fmt.Errorf("page tree deeper than %d levels", maxTreeDepth))
	}
	if w.budget--; w.budget < 0 {
		return invalidPDF(fmt.Errorf("page tree has too many nodes"))
	}

	kids := node.Key("Kids")
	if node.Key("Type").Name() == "Page" || kids.Kind() != pdf.Array {
		if len(w.leaves) == w.maxPages {
			return errorsx.AddMessage(
				fmt.Errorf("%w: PDF has more than %d pages", errorsx.ErrInvalidArgument, w.maxPages),
				fmt.Sprintf("The PDF document has too many pages. At most %d pages are accepted.", w.maxPages),
			)
		}
		w.leaves = append(w.leaves, node)
		return nil
	}

	for i := 0; i < kids.Len(); i++ {
		if err := w.walk(kids.Index(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// FileName names the rendition of a page after its document, e.g.
// "report.pdf", 2 -> "report-page-2.png".
func FileName(document string, pageNumber int) string {
	for i := len(document) - 1; i >= 0 && document[i] != '/'; i-- {
		if document[i] == '.' {
			document = document[:i]
			break
		}
	}
	return fmt.Sprintf("%s-page-%d.png", document, pageNumber)
}

// Blank encodes a white PNG of the given size.
func Blank(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func open(data []byte) (r *pdf.Reader, err error) {
	if len(data) == 0 {
		return nil, errorsx.AddMessage(
			fmt.Errorf("%w: empty PDF", errorsx.ErrInvalidArgument),
			"The PDF document is empty.",
		)
	}

	defer func() {
		if p := recover(); p != nil {
			r, err = nil, invalidPDF(fmt.Errorf("%v", p))
		}
	}()

	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, invalidPDF(err)
	}
	return r, nil
}

func invalidPDF(cause error) error {
	return errorsx.AddMessage(
		fmt.Errorf("%w: reading PDF: %w", errorsx.ErrInvalidArgument, cause),
		"The file is not a valid PDF document.",
	)
}

// pageSize reads the media box of a page, walking up the page tree since the
// attribute is inheritable.
func pageSize(page pdf.Value) (int, int) {
	node := page
	for depth := 0; depth < maxTreeDepth && !node.IsNull(); depth, node = depth+1, node.Key("Parent") {
		box := node.Key("MediaBox")
		if box.Kind() != pdf.Array || box.Len() != 4 {
			continue
		}
		w := clamp(box.Index(2).Float64() - box.Index(0).Float64())
		h := clamp(box.Index(3).Float64() - box.Index(1).Float64())
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return DefaultWidth, DefaultHeight
}

func clamp(v float64) int {
	if v < 0 {
		v = -v
	}
	return min(int(v), maxSide)
}
