package output

import (
	"encoding/csv"
	"io"
)

// PrintCSV writes data as CSV, header row first. It reuses the
// TableRenderer contract, so anything that renders as a table exports as
// CSV too.
func PrintCSV(w io.Writer, data TableRenderer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(data.Headers()); err != nil {
		return err
	}
	for _, row := range data.Rows() {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
