package ocr

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// pdfcpu would otherwise create a config dir under the user's home.
	api.DisableConfigDir()
}

// PDFPageCount returns the number of pages in a PDF held in memory.
func PDFPageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}

// pageChunks splits 1..total into consecutive runs of at most size pages,
// honouring maxPages when it is positive.
func pageChunks(total, size, maxPages int) [][]int32 {
	if maxPages > 0 && total > maxPages {
		total = maxPages
	}
	var out [][]int32
	for start := 1; start <= total; start += size {
		var chunk []int32
		for p := start; p < start+size && p <= total; p++ {
			chunk = append(chunk, int32(p))
		}
		out = append(out, chunk)
	}
	return out
}
