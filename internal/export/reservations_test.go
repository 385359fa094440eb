package export_test

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/iot-resource-manager/backend/internal/export"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

func sampleReservations() []models.Reservation {
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	room := "Meeting Room A"
	alice := "alice"
	notes := "quarterly review"

	return []models.Reservation{
		{
			ID:           "res-1",
			ResourceID:   "r1",
			UserID:       "u1",
			ResourceName: &room,
			Username:     &alice,
			StartTime:    start,
			EndTime:      &end,
			ExpiresAt:    end,
			Status:       models.ReservationCompleted,
			Notes:        &notes,
		},
		{
			ID:         "res-2",
			ResourceID: "r1",
			UserID:     "u2",
			StartTime:  start.Add(2 * time.Hour),
			ExpiresAt:  start.Add(3 * time.Hour),
			Status:     models.ReservationActive,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, sampleReservations()); err != nil {
		t.Fatalf("writing csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header plus 2", len(records))
	}

	wantHeader := strings.Join(export.CSVHeader, ",")
	if got := strings.Join(records[0], ","); got != wantHeader {
		t.Errorf("header = %q, want %q", got, wantHeader)
	}

	first := records[1]
	if first[0] != "res-1" || first[1] != "Meeting Room A" || first[2] != "alice" {
		t.Errorf("first row = %v", first)
	}
	if first[3] != "2025-03-10T12:00:00Z" || first[6] != "completed" {
		t.Errorf("first row times/status = %v", first)
	}

	// Absent optional fields render empty, not "<nil>".
	second := records[2]
	if second[1] != "" || second[4] != "" || second[7] != "" {
		t.Errorf("second row optional fields = %v, want empty", second)
	}
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	if err := export.WritePDF(&buf, sampleReservations()); err != nil {
		t.Fatalf("writing pdf: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatalf("output does not start with PDF magic, got %q", buf.Bytes()[:8])
	}
}
