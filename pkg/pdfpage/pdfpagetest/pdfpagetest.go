// Package pdfpagetest builds PDF documents for tests.
package pdfpagetest

import (
	"bytes"
	"fmt"
	"strconv"
)

// Build assembles a minimal PDF whose pages inherit a 200x100 media box from
// the page tree. Entries of boxes override it per page, e.g.
// {2: "[0 0 300 400]"}.
func Build(pageCount int, boxes map[int]string) []byte {
	return BuildDeclaring(pageCount, strconv.Itoa(pageCount), boxes)
}

// BuildDeclaring is Build with an arbitrary /Count on the page tree root,
// which needn't match the pages actually present.
func BuildDeclaring(pageCount int, count string, boxes map[int]string) []byte {
	kids := ""
	for i := range pageCount {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %s /MediaBox [0 0 200 100] >>", kids, count),
	}
	for i := 1; i <= pageCount; i++ {
		if box, ok := boxes[i]; ok {
			objs = append(objs, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox %s >>", box))
			continue
		}
		objs = append(objs, "<< /Type /Page /Parent 2 0 R >>")
	}
	return Assemble(objs...)
}

// Assemble writes objects 1..n with a valid cross-reference table. Object 1
// is the catalog.
func Assemble(objs ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}
