// Package signatures extracts the digital signatures embedded in a PDF
// document and validates each one against its own covered byte range.
package signatures

import (
	"fmt"
	"io"
	"strings"
	"time"

	pdflib "github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
	"golang.org/x/text/encoding/unicode"
)

// Document is a parsed PDF ready for signature extraction.
type Document struct {
	reader io.ReaderAt
	size   int64
	rdr    *pdflib.Reader
}

// Open parses raw PDF bytes into a Document.
func Open(raw []byte) (*Document, error) {
	buf := filebuffer.New(raw)
	rdr, err := pdflib.NewReader(buf, int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return &Document{
		reader: buf,
		size:   int64(len(raw)),
		rdr:    rdr,
	}, nil
}

// Size returns the document length in bytes.
func (d *Document) Size() int64 {
	return d.size
}

// Reader returns the low-level PDF reader.
func (d *Document) Reader() *pdflib.Reader {
	return d.rdr
}

// PageCount returns the number of pages, or 0 when the page tree is not
// reachable through the trailer.
func (d *Document) PageCount() int {
	pages := d.rdr.Trailer().Key("Root").Key("Pages").Key("Count")
	if pages.IsNull() {
		return 0
	}
	return int(pages.Int64())
}

// DocumentInfo holds the document information dictionary.
type DocumentInfo struct {
	Author       string    `json:"author,omitempty"`
	Creator      string    `json:"creator,omitempty"`
	Title        string    `json:"title,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	Producer     string    `json:"producer,omitempty"`
	CreationDate time.Time `json:"creation_date,omitempty"`
	ModDate      time.Time `json:"mod_date,omitempty"`
}

// Info reads the Info dictionary from the trailer.
func (d *Document) Info() DocumentInfo {
	var info DocumentInfo
	v := d.rdr.Trailer().Key("Info")
	if v.IsNull() {
		return info
	}
	info.Author = decodeTextString(v.Key("Author"))
	info.Creator = decodeTextString(v.Key("Creator"))
	info.Title = decodeTextString(v.Key("Title"))
	info.Subject = decodeTextString(v.Key("Subject"))
	info.Producer = decodeTextString(v.Key("Producer"))
	if date := v.Key("CreationDate"); !date.IsNull() {
		info.CreationDate, _ = parseDate(date.Text())
	}
	if date := v.Key("ModDate"); !date.IsNull() {
		info.ModDate, _ = parseDate(date.Text())
	}
	return info
}

// decodeTextString decodes a PDF text string value. Strings carrying a
// UTF-16BE byte order mark are decoded explicitly; everything else goes
// through the reader's PDFDocEncoding handling.
func decodeTextString(v pdflib.Value) string {
	raw := v.RawString()
	if strings.HasPrefix(raw, "\xfe\xff") {
		dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		if s, err := dec.String(raw); err == nil {
			return s
		}
	}
	return v.Text()
}

// parseDate parses PDF formatted dates (D:YYYYMMDDHHmmSSOHH'mm').
func parseDate(v string) (time.Time, error) {
	return time.Parse("D:20060102150405Z07'00'", v)
}
