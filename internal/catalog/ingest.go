package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"medtrack/internal/util"
	"medtrack/pkg/domain"
	"medtrack/pkg/store"
)

// ErrMissingHeader is returned when the CSV lacks the moh_code column.
var ErrMissingHeader = errors.New("catalog csv requires a moh_code column")

// IngestResult summarizes one catalog file load.
type IngestResult struct {
	Imported int
	Skipped  int
}

// Ingester loads Kuwait MOH catalog exports into the local drug table.
// Re-running the same file is a no-op: rows are keyed by moh_code.
type Ingester struct {
	store store.Store
	now   func() time.Time
}

func NewIngester(st store.Store) *Ingester {
	return &Ingester{store: st, now: time.Now}
}

// IngestCSV reads a catalog export with columns moh_code, trade_name_ar,
// generic_name, strength, and dosage_form. sourceFile labels where the rows
// came from for later auditing.
func (g *Ingester) IngestCSV(ctx context.Context, r io.Reader, sourceFile string) (IngestResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return IngestResult{}, fmt.Errorf("read csv header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["moh_code"]; !ok {
		return IngestResult{}, ErrMissingHeader
	}

	field := func(record []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var result IngestResult
	extractedAt := g.now().UTC()
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read csv record: %w", err)
		}
		mohCode := field(record, "moh_code")
		if mohCode == "" {
			result.Skipped++
			continue
		}
		if _, exists, err := g.store.GetLocalDrugByMOHCode(mohCode); err != nil {
			return result, fmt.Errorf("check moh code %s: %w", mohCode, err)
		} else if exists {
			result.Skipped++
			continue
		}
		drug := domain.DrugLocal{
			ID:          util.NewID(),
			MOHCode:     mohCode,
			TradeNameAR: field(record, "trade_name_ar"),
			GenericName: field(record, "generic_name"),
			Strength:    field(record, "strength"),
			DosageForm:  field(record, "dosage_form"),
			SourceFile:  sourceFile,
			ExtractedAt: extractedAt,
		}
		if err := g.store.SaveLocalDrug(drug); err != nil {
			return result, fmt.Errorf("save local drug %s: %w", mohCode, err)
		}
		result.Imported++
	}

	if err := g.store.AppendProvenance(domain.Provenance{
		ID:         util.NewID(),
		EntityType: "catalog_file",
		Source:     "moh",
		FetchedAt:  extractedAt,
		Notes: map[string]any{
			"sourceFile": sourceFile,
			"imported":   result.Imported,
			"skipped":    result.Skipped,
		},
	}); err != nil {
		slog.Warn("catalog file provenance failed", "sourceFile", sourceFile, "error", err)
	}
	return result, nil
}
