package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported serialization formats for archived records.
type ExportFormat string

const (
	// ExportFormatCSV serializes records as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON serializes records as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// Extension returns the file extension for the format, including the dot.
func (f ExportFormat) Extension() string {
	switch f {
	case ExportFormatCSV:
		return ".csv"
	default:
		return ".json"
	}
}

// Export serializes records in the given format. Used by the retention
// enforcer to build archive payloads.
func Export(recs []*Record, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportToCSV(recs)
	case ExportFormatJSON:
		return exportToJSON(recs)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportToCSV serializes records to CSV with a header row.
func exportToCSV(recs []*Record) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID",
		"Timestamp (UTC)",
		"Correlation ID",
		"Subject ID",
		"Action",
		"Stage",
		"Actor ID",
		"Success",
		"Error Message",
		"Detail",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range recs {
		row := []string{
			rec.ID,
			rec.CreatedAt.Format(time.RFC3339),
			rec.CorrelationID,
			rec.SubjectID,
			string(rec.Action),
			string(rec.Stage),
			rec.ActorID,
			fmt.Sprintf("%t", rec.Success),
			rec.ErrorMessage,
			rec.Detail,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// exportToJSON serializes records to an indented JSON array.
func exportToJSON(recs []*Record) ([]byte, error) {
	type exportRecord struct {
		ID            string `json:"id"`
		Timestamp     string `json:"timestamp"` // ISO 8601 format
		CorrelationID string `json:"correlation_id"`
		SubjectID     string `json:"subject_id,omitempty"`
		Action        string `json:"action"`
		Stage         string `json:"stage"`
		ActorID       string `json:"actor_id,omitempty"`
		Success       bool   `json:"success"`
		ErrorMessage  string `json:"error_message,omitempty"`
		Detail        string `json:"detail,omitempty"`
	}

	out := make([]exportRecord, len(recs))
	for i, rec := range recs {
		out[i] = exportRecord{
			ID:            rec.ID,
			Timestamp:     rec.CreatedAt.Format(time.RFC3339),
			CorrelationID: rec.CorrelationID,
			SubjectID:     rec.SubjectID,
			Action:        string(rec.Action),
			Stage:         string(rec.Stage),
			ActorID:       rec.ActorID,
			Success:       rec.Success,
			ErrorMessage:  rec.ErrorMessage,
			Detail:        rec.Detail,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
