package eventlog

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func sampleEntries() []*Entry {
	return []*Entry{
		{
			ID:              "1",
			CreatedAt:       time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
			ProviderID:      "00000000-0000-0000-0000-00000000000a",
			OperationName:   "classify_waste",
			Status:          StatusSuccess,
			DurationMs:      842,
			TokensUsed:      120,
			RequestPreview:  "photo of a battery",
			ResponsePreview: `{"category":"hazardous"}`,
		},
		{
			ID:            "2",
			CreatedAt:     time.Date(2026, 3, 14, 12, 1, 0, 0, time.UTC),
			ProviderID:    "00000000-0000-0000-0000-00000000000b",
			OperationName: "classify_waste",
			Status:        StatusError,
			DurationMs:    15000,
			ErrorMessage:  "gemini api error (status 429): RATE_LIMIT",
		},
	}
}

func TestExport_JSON(t *testing.T) {
	data, contentType, err := Export(sampleEntries(), FormatJSON)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("Expected application/json, got %q", contentType)
	}

	var decoded []*Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Export output is not valid JSON: %v", err)
	}
	if len(decoded) != 2 || decoded[0].OperationName != "classify_waste" {
		t.Errorf("Unexpected decoded export: %+v", decoded)
	}
}

func TestExport_CSV(t *testing.T) {
	data, contentType, err := Export(sampleEntries(), FormatCSV)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if contentType != "text/csv" {
		t.Errorf("Expected text/csv, got %q", contentType)
	}

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("Export output is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "id" || rows[0][4] != "status" {
		t.Errorf("Unexpected header: %v", rows[0])
	}
	if rows[1][4] != StatusSuccess || rows[1][6] != "120" {
		t.Errorf("Unexpected first row: %v", rows[1])
	}
	if rows[2][7] != "gemini api error (status 429): RATE_LIMIT" {
		t.Errorf("Error message must survive export, got %q", rows[2][7])
	}
}

func TestExport_UnsupportedFormat(t *testing.T) {
	if _, _, err := Export(sampleEntries(), "xml"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestTruncate(t *testing.T) {
	short := "short prompt"
	if got := Truncate(short); got != short {
		t.Errorf("Short string must not change, got %q", got)
	}

	long := strings.Repeat("x", PreviewLimit+50)
	got := Truncate(long)
	if len(got) != PreviewLimit {
		t.Errorf("Expected %d chars, got %d", PreviewLimit, len(got))
	}
}

func TestTruncate_MultiByteRuneBoundary(t *testing.T) {
	// 300 bytes of 3-byte runes; the byte limit falls mid-rune.
	long := strings.Repeat("日", 100)
	got := Truncate(long)

	if !utf8.ValidString(got) {
		t.Fatal("Truncated preview is not valid UTF-8")
	}
	if len(got) > PreviewLimit {
		t.Errorf("Expected at most %d bytes, got %d", PreviewLimit, len(got))
	}
	if got != strings.Repeat("日", 66) {
		t.Errorf("Expected truncation at the last full rune (198 bytes), got %d bytes", len(got))
	}
}
