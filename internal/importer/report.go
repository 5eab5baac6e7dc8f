package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// IssuesColumn is appended to the source header in failure reports.
const IssuesColumn = "issues"

// WriteReport writes the failed blocks as a CSV file shaped like the input:
// the original header plus an issues column, each failed product row with
// its issues, then its variant rows unchanged. Orphan blocks get an empty
// product line carrying the issues. The report uses the source encoding so
// it can be corrected and re-imported as is.
func WriteReport(w io.Writer, header []string, failed []BlockResult, encodingName string) error {
	ew, err := newWriter(w, encodingName)
	if err != nil {
		return err
	}
	out := csv.NewWriter(ew)

	if err := out.Write(append(append([]string(nil), header...), IssuesColumn)); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}

	width := len(header)
	for _, br := range failed {
		block := br.Block
		var lead []string
		if block.ProductRow != nil && !block.Orphan {
			lead = fitWidth(block.ProductRow.Raw(), width)
		} else if len(block.VariantRows) > 0 && !block.Orphan {
			// variants-only blocks: the variant row itself failed
			lead = fitWidth(block.VariantRows[0].Raw(), width)
		} else {
			lead = make([]string, width)
		}
		if err := out.Write(append(lead, JoinIssues(br.Issues))); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}

		variants := block.VariantRows
		if block.ProductRow == nil && !block.Orphan && len(variants) > 0 {
			variants = variants[1:]
		}
		for _, row := range variants {
			if err := out.Write(append(fitWidth(row.Raw(), width), "")); err != nil {
				return fmt.Errorf("write report row: %w", err)
			}
		}
	}

	out.Flush()
	return out.Error()
}

// BuildReport renders the report into memory, for attaching to notifications.
func BuildReport(header []string, failed []BlockResult, encodingName string) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, header, failed, encodingName); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fitWidth(values []string, width int) []string {
	if len(values) >= width {
		return values[:width]
	}
	return append(values, make([]string, width-len(values))...)
}
