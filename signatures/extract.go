package signatures

import (
	"io"
	"time"

	pdflib "github.com/digitorus/pdf"
	"go.uber.org/zap"
)

// ExtractedSignature is one signature field found in a document, together
// with the covered byte range it must be validated against. Multiple
// signatures on one document are independent: each may have been created
// at a different incremental-update state, so each carries its own range.
type ExtractedSignature struct {
	// FieldName is the fully qualified form field name.
	FieldName string
	// Filter and SubFilter identify the signature handler and encoding.
	Filter    string
	SubFilter string

	// Signer-supplied metadata from the signature dictionary.
	Name        string
	Reason      string
	Location    string
	ContactInfo string
	SigningTime *time.Time

	// Raw is the CMS envelope from the Contents entry.
	Raw []byte
	// ByteRange is the list of offset/length pairs covered by the
	// signature.
	ByteRange []int64

	doc *Document
}

// IsDocTimeStamp reports whether the field holds a document timestamp
// rather than an approval or certification signature.
func (es *ExtractedSignature) IsDocTimeStamp() bool {
	return es.SubFilter == "ETSI.RFC3161"
}

// SignedContent reads the exact bytes covered by the signature.
func (es *ExtractedSignature) SignedContent() ([]byte, error) {
	if len(es.ByteRange) == 0 || len(es.ByteRange)%2 != 0 {
		return nil, &UsageError{Msg: "invalid or missing ByteRange"}
	}

	var total int64
	for i := 0; i < len(es.ByteRange); i += 2 {
		offset, length := es.ByteRange[i], es.ByteRange[i+1]
		if offset < 0 || length < 0 {
			return nil, &UsageError{Msg: "negative ByteRange entry"}
		}
		if offset > es.doc.size-length {
			return nil, &UsageError{Msg: "ByteRange exceeds document bounds"}
		}
		total += length
	}

	content := make([]byte, total)
	r := &ByteRangeReader{File: es.doc.reader, Ranges: es.ByteRange}
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, &UsageError{Msg: "ByteRange exceeds document bounds"}
	}
	return content, nil
}

// ExtractSignatures walks the interactive form tree and returns every
// signature field carrying a CMS envelope. A document without an
// interactive form yields an empty slice.
func (e *Engine) ExtractSignatures(doc *Document) ([]*ExtractedSignature, error) {
	if doc == nil {
		return nil, &UsageError{Msg: "document is nil"}
	}

	acroForm := doc.rdr.Trailer().Key("Root").Key("AcroForm")
	if acroForm.IsNull() {
		return nil, nil
	}

	var out []*ExtractedSignature
	walkFields(acroForm.Key("Fields"), "", func(name string, field pdflib.Value) {
		if field.Key("FT").Name() != "Sig" {
			return
		}
		v := field.Key("V")
		if !isSignatureDict(v) {
			return
		}

		es := &ExtractedSignature{
			FieldName:   name,
			Filter:      v.Key("Filter").Name(),
			SubFilter:   v.Key("SubFilter").Name(),
			Name:        decodeTextString(v.Key("Name")),
			Reason:      decodeTextString(v.Key("Reason")),
			Location:    decodeTextString(v.Key("Location")),
			ContactInfo: decodeTextString(v.Key("ContactInfo")),
			Raw:         []byte(v.Key("Contents").RawString()),
			ByteRange:   readByteRangeArray(v),
			doc:         doc,
		}
		if m := v.Key("M"); !m.IsNull() {
			if t, err := parseDate(m.Text()); err == nil {
				es.SigningTime = &t
			}
		}
		out = append(out, es)
	})

	e.Logger.Debug("extracted signatures",
		zap.Int("count", len(out)),
		zap.Int64("document_size", doc.size))
	return out, nil
}

// isSignatureDict mirrors the acceptance rules for filled signature
// values: a declared Sig/DocTimeStamp type, or a handler plus contents.
func isSignatureDict(v pdflib.Value) bool {
	if v.IsNull() {
		return false
	}
	switch v.Key("Type").Name() {
	case "Sig", "DocTimeStamp":
		return true
	}
	return !v.Key("Filter").IsNull() && !v.Key("Contents").IsNull()
}

// walkFields visits every terminal field, recursing through Kids and
// building fully qualified names along the way.
func walkFields(arr pdflib.Value, prefix string, visit func(name string, field pdflib.Value)) {
	if arr.IsNull() || arr.Kind() != pdflib.Array {
		return
	}
	for i := 0; i < arr.Len(); i++ {
		field := arr.Index(i)

		name := prefix
		if t := decodeTextString(field.Key("T")); t != "" {
			if name != "" {
				name += "."
			}
			name += t
		}

		visit(name, field)

		if kids := field.Key("Kids"); !kids.IsNull() {
			walkFields(kids, name, visit)
		}
	}
}

func readByteRangeArray(v pdflib.Value) []int64 {
	br := v.Key("ByteRange")
	if br.IsNull() || br.Len() == 0 {
		return nil
	}
	ranges := make([]int64, 0, br.Len())
	for i := 0; i < br.Len(); i++ {
		ranges = append(ranges, br.Index(i).Int64())
	}
	return ranges
}

// ByteRangeReader presents the non-contiguous covered ranges as one
// continuous stream.
type ByteRangeReader struct {
	File      io.ReaderAt
	Ranges    []int64
	rangeIdx  int
	readInCur int64
}

func (r *ByteRangeReader) Read(p []byte) (n int, err error) {
	if r.rangeIdx >= len(r.Ranges) {
		return 0, io.EOF
	}

	totalRead := 0
	for totalRead < len(p) && r.rangeIdx < len(r.Ranges) {
		start := r.Ranges[r.rangeIdx]
		length := r.Ranges[r.rangeIdx+1]

		remaining := length - r.readInCur
		if remaining <= 0 {
			r.rangeIdx += 2
			r.readInCur = 0
			continue
		}

		toRead := int64(len(p) - totalRead)
		if toRead > remaining {
			toRead = remaining
		}

		read, readErr := r.File.ReadAt(p[totalRead:totalRead+int(toRead)], start+r.readInCur)
		if read > 0 {
			totalRead += read
			r.readInCur += int64(read)
		}

		if readErr != nil {
			if readErr == io.EOF && r.readInCur == length {
				r.rangeIdx += 2
				r.readInCur = 0
				continue
			}
			return totalRead, readErr
		}
	}

	if totalRead == 0 && r.rangeIdx >= len(r.Ranges) {
		return 0, io.EOF
	}

	return totalRead, nil
}
