package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"medtrack/pkg/store"
)

const sampleCSV = `moh_code,trade_name_ar,generic_name,strength,dosage_form
KW-001,بنادول,paracetamol,500 mg,tablet
KW-002,أدول,paracetamol,250 mg,syrup
,بدون رمز,unknown,,
KW-001,بنادول مكرر,paracetamol,500 mg,tablet
`

func TestIngestCSV(t *testing.T) {
	mem := store.NewMemoryStore()
	g := NewIngester(mem)

	res, err := g.IngestCSV(context.Background(), strings.NewReader(sampleCSV), "moh-2026-08.csv")
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	if res.Imported != 2 || res.Skipped != 2 {
		t.Fatalf("result = %+v, want 2 imported / 2 skipped", res)
	}

	drug, ok, err := mem.GetLocalDrugByMOHCode("KW-001")
	if err != nil || !ok {
		t.Fatalf("KW-001 missing: %v, %v", ok, err)
	}
	if drug.TradeNameAR != "بنادول" || drug.SourceFile != "moh-2026-08.csv" {
		t.Fatalf("row = %+v", drug)
	}
	if drug.MatchedDrugID != "" {
		t.Fatalf("fresh row should be unmatched: %+v", drug)
	}

	// File-level provenance is appended once per run.
	records, err := mem.ListProvenanceByEntity("catalog_file", "")
	if err != nil || len(records) != 1 {
		t.Fatalf("catalog_file provenance = %d, %v", len(records), err)
	}
	if records[0].Notes["imported"] != 2 {
		t.Fatalf("notes = %+v", records[0].Notes)
	}
}

func TestIngestCSVIdempotent(t *testing.T) {
	mem := store.NewMemoryStore()
	g := NewIngester(mem)
	ctx := context.Background()

	if _, err := g.IngestCSV(ctx, strings.NewReader(sampleCSV), "moh-2026-08.csv"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := g.IngestCSV(ctx, strings.NewReader(sampleCSV), "moh-2026-08.csv")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Imported != 0 {
		t.Fatalf("second run imported %d rows", res.Imported)
	}
	drugs, err := mem.ListVisibleLocalDrugs()
	if err != nil || len(drugs) != 2 {
		t.Fatalf("catalog rows = %d, %v", len(drugs), err)
	}
}

func TestIngestCSVMissingHeader(t *testing.T) {
	mem := store.NewMemoryStore()
	g := NewIngester(mem)
	_, err := g.IngestCSV(context.Background(), strings.NewReader("code,name\n1,x\n"), "bad.csv")
	if !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("err = %v, want ErrMissingHeader", err)
	}
}
