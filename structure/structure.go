// Package structure validates the low-level shape of a PDF file: header,
// trailer markers, cross-reference table and object bookkeeping. It works on
// raw bytes with bounded textual scans and never interprets object content,
// so it stays cheap and safe on adversarial input. Signature extraction
// should only run on documents that pass the header check.
package structure

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StructuralError reports a malformed document.
type StructuralError struct {
	Msg string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error: %s", e.Msg)
}

// Result is the outcome of one structural pass. It is a pure value:
// created per call and never mutated afterwards.
type Result struct {
	IsValid             bool     `json:"is_valid"`
	PDFVersion          string   `json:"pdf_version,omitempty"`
	HeaderValid         bool     `json:"header_valid"`
	CrossReferenceValid bool     `json:"cross_reference_valid"`
	TrailerValid        bool     `json:"trailer_valid"`
	ObjectsValid        bool     `json:"objects_valid"`
	Errors              []string `json:"errors,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
}

// Err folds the accumulated errors into a single StructuralError, or nil
// when the pass found none. Warnings never contribute.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &StructuralError{Msg: strings.Join(r.Errors, "; ")}
}

// Fatal reports whether the document is too damaged for signature
// extraction. Only an unreadable or out-of-range header qualifies; every
// other defect still leaves the byte layout usable.
func (r *Result) Fatal() bool {
	return !r.HeaderValid
}

const (
	// defaultMaxObjectScan caps the number of obj/endobj matches counted,
	// bounding work on pathological files.
	defaultMaxObjectScan = 50000
	// defaultXrefSamples is how many cross-reference entries are checked
	// for the fixed-width record shape.
	defaultXrefSamples = 10
)

var (
	headerPattern = regexp.MustCompile(`^%PDF-(\d+)\.(\d+)`)
	objPattern    = regexp.MustCompile(`\d+\s+\d+\s+obj\b`)
	endobjPattern = regexp.MustCompile(`\bendobj\b`)
	// 10-digit offset, 5-digit generation, one-letter type (n or f).
	xrefEntryPattern = regexp.MustCompile(`^\d{10} \d{5} [nf]`)
	catalogPattern   = regexp.MustCompile(`/Type\s*/Catalog\b`)
	pagesPattern     = regexp.MustCompile(`/Type\s*/Pages\b`)
)

// Validator performs structural validation of raw PDF bytes.
type Validator struct {
	// MaxObjectScan bounds the obj/endobj counting pass.
	MaxObjectScan int
	// XrefSamples is the number of cross-reference entries sampled.
	XrefSamples int
}

func NewValidator() *Validator {
	return &Validator{
		MaxObjectScan: defaultMaxObjectScan,
		XrefSamples:   defaultXrefSamples,
	}
}

// Validate runs the structural checks over raw and accumulates errors and
// warnings. It never returns a Go error: malformed input is an expected
// condition and lands in the result.
func (v *Validator) Validate(raw []byte) *Result {
	res := &Result{
		CrossReferenceValid: true,
		TrailerValid:        true,
		ObjectsValid:        true,
	}

	v.checkHeader(raw, res)
	if res.HeaderValid {
		v.checkTrailer(raw, res)
		v.checkCrossReference(raw, res)
		v.checkObjects(raw, res)
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func (v *Validator) checkHeader(raw []byte, res *Result) {
	m := headerPattern.FindSubmatch(raw)
	if m == nil {
		res.Errors = append(res.Errors, "invalid PDF header: missing %PDF-<major>.<minor> marker")
		return
	}
	major, _ := strconv.Atoi(string(m[1]))
	minor, _ := strconv.Atoi(string(m[2]))
	version := fmt.Sprintf("%d.%d", major, minor)
	res.PDFVersion = version

	if major < 1 || major > 2 || (major == 2 && minor > 0) {
		res.Errors = append(res.Errors, fmt.Sprintf("invalid PDF header: unsupported version %s", version))
		return
	}
	res.HeaderValid = true
}

func (v *Validator) checkTrailer(raw []byte, res *Result) {
	startxref := bytes.LastIndex(raw, []byte("startxref"))
	if startxref < 0 {
		res.Errors = append(res.Errors, "trailer: missing startxref marker")
		res.TrailerValid = false
	}
	if !bytes.Contains(raw, []byte("%%EOF")) {
		res.Errors = append(res.Errors, "trailer: missing %%EOF marker")
		res.TrailerValid = false
	}

	// The trailer keyword is absent in files using cross-reference
	// streams, so it only rates a warning.
	trailer := bytes.LastIndex(raw, []byte("trailer"))
	switch {
	case trailer < 0:
		res.Warnings = append(res.Warnings, "trailer: no trailer keyword (cross-reference stream?)")
	case startxref >= 0 && trailer > startxref:
		res.Warnings = append(res.Warnings, "trailer: trailer keyword appears after startxref")
	}
}

func (v *Validator) checkCrossReference(raw []byte, res *Result) {
	idx := indexXrefTable(raw)
	if idx < 0 {
		res.Warnings = append(res.Warnings, "cross-reference: no classic xref table (cross-reference stream?)")
		return
	}

	// Sample a handful of entries after the subsection header and check
	// the fixed 20-byte record shape.
	samples := v.XrefSamples
	if samples <= 0 {
		samples = defaultXrefSamples
	}
	valid := 0
	lines := bytes.Split(raw[idx:], []byte("\n"))
	for _, line := range lines {
		if samples == 0 {
			break
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) < 18 {
			continue
		}
		samples--
		if xrefEntryPattern.Match(line) {
			valid++
		}
	}
	if valid == 0 {
		res.Warnings = append(res.Warnings, "cross-reference: no well-formed xref entries found in sample")
	}
}

// indexXrefTable finds the first xref table keyword, skipping the xref
// substring inside every startxref marker.
func indexXrefTable(raw []byte) int {
	off := 0
	for {
		i := bytes.Index(raw[off:], []byte("xref"))
		if i < 0 {
			return -1
		}
		abs := off + i
		if abs < 5 || !bytes.Equal(raw[abs-5:abs], []byte("start")) {
			return abs
		}
		off = abs + len("xref")
	}
}

func (v *Validator) checkObjects(raw []byte, res *Result) {
	limit := v.MaxObjectScan
	if limit <= 0 {
		limit = defaultMaxObjectScan
	}
	objs := len(objPattern.FindAllIndex(raw, limit))
	endobjs := len(endobjPattern.FindAllIndex(raw, limit))
	if objs != endobjs {
		res.Errors = append(res.Errors, fmt.Sprintf("objects: %d obj markers but %d endobj markers", objs, endobjs))
		res.ObjectsValid = false
	}

	// Object streams can compress the catalog away from a textual scan.
	if !catalogPattern.Match(raw) {
		res.Warnings = append(res.Warnings, "objects: no document catalog found in plain text (object streams?)")
	}
	if !pagesPattern.Match(raw) {
		res.Warnings = append(res.Warnings, "objects: no pages tree found in plain text (object streams?)")
	}
}
