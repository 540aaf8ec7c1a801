// Package testpdf builds small signed PDF files for the validation test
// suites. Every signature is appended as an incremental update with a
// correct cross-reference section, so each one covers its own revision
// state the way real multi-signature documents do.
package testpdf

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignFunc produces a CMS envelope (or timestamp token) over the covered
// document bytes.
type SignFunc func(content []byte) ([]byte, error)

// SigOptions controls one signature field.
type SigOptions struct {
	// Type is the signature dictionary type, Sig by default.
	Type string
	// SubFilter defaults to adbe.pkcs7.detached.
	SubFilter string
	// Reason is a free-text string stored in the dictionary.
	Reason string
	// ContentsSize is the hex placeholder width, 16384 by default.
	ContentsSize int
}

// Builder assembles a one-page PDF and appends signature revisions.
type Builder struct {
	data           []byte
	nextObj        int
	fieldRefs      []string
	lastXrefOffset int
}

// New builds the base revision: catalog, page tree, one page and an
// empty interactive form.
func New() *Builder {
	b := &Builder{nextObj: 5}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make(map[int]int)
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R /AcroForm 4 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	writeObj(4, "<< /Fields [] /SigFlags 3 >>")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 5\n")
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= 4; num++ {
		fmt.Fprintf(&buf, "%010d %05d n \n", offsets[num], 0)
	}
	buf.WriteString("trailer\n<< /Size 5 /Root 1 0 R >>\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	b.data = buf.Bytes()
	b.lastXrefOffset = xrefOffset
	return b
}

// Bytes returns the document assembled so far.
func (b *Builder) Bytes() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// AddSignature appends an incremental update holding one signature field.
// sign receives exactly the bytes the new signature covers: the whole
// file as of this revision, minus the Contents placeholder gap.
func (b *Builder) AddSignature(fieldName string, opts SigOptions, sign SignFunc) error {
	if opts.Type == "" {
		opts.Type = "Sig"
	}
	if opts.SubFilter == "" {
		opts.SubFilter = "adbe.pkcs7.detached"
	}
	if opts.ContentsSize == 0 {
		opts.ContentsSize = 16384
	}

	widget := b.nextObj
	sigDict := b.nextObj + 1
	b.nextObj += 2
	b.fieldRefs = append(b.fieldRefs, fmt.Sprintf("%d 0 R", widget))

	base := len(b.data)
	var rev bytes.Buffer
	offsets := make(map[int]int)
	writeObj := func(num int, body string) {
		offsets[num] = base + rev.Len()
		fmt.Fprintf(&rev, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(widget, fmt.Sprintf(
		"<< /Type /Annot /Subtype /Widget /FT /Sig /T (%s) /Rect [0 0 0 0] /F 4 /P 3 0 R /V %d 0 R >>",
		fieldName, sigDict))

	placeholder := strings.Repeat("0", opts.ContentsSize)
	reason := ""
	if opts.Reason != "" {
		reason = fmt.Sprintf(" /Reason (%s)", opts.Reason)
	}
	writeObj(sigDict, fmt.Sprintf(
		"<< /Type /%s /Filter /Adobe.PPKLite /SubFilter /%s /ByteRange [0 0000000000 0000000000 0000000000] /Contents <%s>%s >>",
		opts.Type, opts.SubFilter, placeholder, reason))

	writeObj(4, fmt.Sprintf("<< /Fields [%s] /SigFlags 3 >>", strings.Join(b.fieldRefs, " ")))

	xrefOffset := base + rev.Len()
	rev.WriteString("xref\n0 1\n0000000000 65535 f \n")
	fmt.Fprintf(&rev, "4 1\n%010d %05d n \n", offsets[4], 0)
	fmt.Fprintf(&rev, "%d 2\n", widget)
	fmt.Fprintf(&rev, "%010d %05d n \n", offsets[widget], 0)
	fmt.Fprintf(&rev, "%010d %05d n \n", offsets[sigDict], 0)
	fmt.Fprintf(&rev, "trailer\n<< /Size %d /Root 1 0 R /Prev %d >>\n", b.nextObj, b.lastXrefOffset)
	fmt.Fprintf(&rev, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	full := append(b.data, rev.Bytes()...)

	// Locate the Contents gap, delimiters included.
	marker := []byte("<" + placeholder + ">")
	idx := bytes.Index(full[base:], marker)
	if idx < 0 {
		return fmt.Errorf("contents placeholder not found")
	}
	gapStart := base + idx
	gapEnd := gapStart + len(marker)

	// Patch the fixed-width ByteRange in place.
	byteRange := fmt.Sprintf("/ByteRange [0 %010d %010d %010d]", gapStart, gapEnd, len(full)-gapEnd)
	brIdx := bytes.Index(full[base:], []byte("/ByteRange [0 0000000000 0000000000 0000000000]"))
	if brIdx < 0 {
		return fmt.Errorf("ByteRange placeholder not found")
	}
	copy(full[base+brIdx:], byteRange)

	covered := make([]byte, 0, len(full)-len(marker))
	covered = append(covered, full[:gapStart]...)
	covered = append(covered, full[gapEnd:]...)

	der, err := sign(covered)
	if err != nil {
		return fmt.Errorf("sign revision: %w", err)
	}
	if hex.EncodedLen(len(der)) > opts.ContentsSize {
		return fmt.Errorf("signature of %d bytes exceeds contents placeholder", len(der))
	}
	copy(full[gapStart+1:], strings.ToUpper(hex.EncodeToString(der)))

	b.data = full
	b.lastXrefOffset = xrefOffset
	return nil
}

// CorruptReason flips one byte inside the named Reason string, a
// location covered by its signature but structurally inert.
func CorruptReason(doc []byte, reason string) []byte {
	out := make([]byte, len(doc))
	copy(out, doc)
	idx := bytes.Index(out, []byte("("+reason+")"))
	if idx < 0 {
		return out
	}
	out[idx+1] ^= 0x01
	return out
}
