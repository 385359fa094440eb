// Package export renders reservation history as CSV or PDF downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// CSVHeader is the column layout of the CSV export.
var CSVHeader = []string{"ID", "Resource", "User", "Start", "End", "Expires", "Status", "Notes"}

// WriteCSV streams the reservations as CSV.
func WriteCSV(w io.Writer, reservations []models.Reservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, res := range reservations {
		if err := cw.Write(csvRow(res)); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func csvRow(res models.Reservation) []string {
	return []string{
		res.ID,
		deref(res.ResourceName),
		deref(res.Username),
		res.StartTime.Format(time.RFC3339),
		formatTime(res.EndTime),
		res.ExpiresAt.Format(time.RFC3339),
		string(res.Status),
		deref(res.Notes),
	}
}

// WritePDF renders the reservations as a simple one-block-per-entry PDF
// report.
func WritePDF(w io.Writer, reservations []models.Reservation) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, "Reservation History", "", 1, "C", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Arial", "", 10)
	for _, res := range reservations {
		end := "-"
		if res.EndTime != nil {
			end = res.EndTime.Format(time.RFC3339)
		}
		block := fmt.Sprintf(
			"ID: %s | Resource: %s | User: %s\nStart: %s | End: %s | Status: %s",
			res.ID, deref(res.ResourceName), deref(res.Username),
			res.StartTime.Format(time.RFC3339), end, res.Status,
		)
		pdf.MultiCell(0, 7, block, "1", "L", false)
		pdf.Ln(2)
	}

	return pdf.Output(w)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
