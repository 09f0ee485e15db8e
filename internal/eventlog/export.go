package eventlog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Export serializes entries as a snapshot in the given format. Callers are
// expected to pass at most ExportLimit newest rows.
func Export(entries []*Entry, format string) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to export logs as json: %w", err)
		}
		return data, "application/json", nil
	case FormatCSV:
		data, err := exportCSV(entries)
		if err != nil {
			return nil, "", err
		}
		return data, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"id", "created_at", "provider_id", "operation_name", "status",
		"duration_ms", "tokens_used", "error_message", "request_preview", "response_preview",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.ProviderID,
			e.OperationName,
			e.Status,
			strconv.FormatInt(e.DurationMs, 10),
			strconv.Itoa(e.TokensUsed),
			e.ErrorMessage,
			e.RequestPreview,
			e.ResponsePreview,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
