// Package export renders rank history into spreadsheet downloads.
package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/jtwolab/rankops/internal/model"
)

// SheetName is the single worksheet written by WriteSnapshotsXLSX.
const SheetName = "rank_snapshots"

// ContentType is the MIME type of an .xlsx workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WriteSnapshotsXLSX writes snapshots as one worksheet with a
// model.SnapshotHeaders header row. Metrics are written as numbers and nil
// metrics as empty cells.
func WriteSnapshotsXLSX(w io.Writer, snapshots []model.RankSnapshot) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range model.SnapshotHeaders {
		header.AddCell().SetString(h)
	}

	for _, s := range snapshots {
		row := sheet.AddRow()
		for _, h := range model.SnapshotHeaders {
			writeCell(row.AddCell(), s, h)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

func writeCell(c *xlsx.Cell, s model.RankSnapshot, header string) {
	var n *int
	switch header {
	case "rank":
		n = s.Rank
	case "saves":
		n = s.Saves
	case "blog_reviews":
		n = s.BlogReviews
	case "visitor_reviews":
		n = s.VisitorReviews
	case "n2_score":
		if s.PopularityScore != nil {
			c.SetFloat(*s.PopularityScore)
		}
		return
	default:
		c.SetString(s.ToRow([]string{header})[0].(string))
		return
	}
	if n != nil {
		c.SetInt(*n)
	}
}
