package docinfo

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Info describes an uploaded document's content.
type Info struct {
	SizeBytes int64
	// PageCount is only known for PDF documents; 0 otherwise.
	PageCount int
}

// Inspect derives content metadata from an upload. It never fails: a document
// that cannot be parsed is still storable, it just carries less metadata.
func Inspect(name string, content []byte) Info {
	info := Info{SizeBytes: int64(len(content))}
	if strings.ToLower(filepath.Ext(name)) == ".pdf" {
		info.PageCount = pdfPageCount(content)
	}
	return info
}

func pdfPageCount(content []byte) (count int) {
	// The pdf package panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			count = 0
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0
	}
	return reader.NumPage()
}
