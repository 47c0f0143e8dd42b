package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
)

func itemRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = NewRecord(uuid.NewString(), i, map[schema.Field]string{
			schema.FieldName:      fmt.Sprintf("Item %d", i),
			schema.FieldDailyRate: "10",
		})
	}
	return records
}

func resolveFor(t *testing.T, st store.Store, records []Record, m FieldMapping) *ReferenceContext {
	t.Helper()
	refs, err := NewResolver(st, schema.Default(), nil).Resolve(context.Background(), records, m)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return refs
}

func TestExecute_Batches(t *testing.T) {
	mem := store.NewMemory(nil)
	ex := NewExecutor(mem, schema.Default(), ExecutorConfig{}, nil)

	var processed []int
	out := ex.Execute(context.Background(), itemRecords(12), nil, nil, func(o ImportOutcome) {
		processed = append(processed, o.Processed)
	})

	if got := mem.Batches(schema.EquipmentTable); !slices.Equal(got, []int{5, 5, 2}) {
		t.Errorf("batches = %v, want [5 5 2]", got)
	}
	if !slices.Equal(processed, []int{5, 10, 12}) {
		t.Errorf("progress = %v, want [5 10 12]", processed)
	}
	if out.Succeeded != 12 || out.Failed != 0 || out.Batches != 3 {
		t.Errorf("outcome = %d ok / %d failed / %d batches, want 12/0/3", out.Succeeded, out.Failed, out.Batches)
	}
	if len(out.InsertedIDs) != 12 {
		t.Errorf("len(InsertedIDs) = %d, want 12", len(out.InsertedIDs))
	}
	if out.Aborted {
		t.Error("Aborted = true, want false")
	}
}

func TestExecute_BatchSize(t *testing.T) {
	mem := store.NewMemory(nil)
	ex := NewExecutor(mem, schema.Default(), ExecutorConfig{BatchSize: 4}, nil)

	ex.Execute(context.Background(), itemRecords(9), nil, nil, nil)

	if got := mem.Batches(schema.EquipmentTable); !slices.Equal(got, []int{4, 4, 1}) {
		t.Errorf("batches = %v, want [4 4 1]", got)
	}
}

func TestExecute_FailedBatchContinues(t *testing.T) {
	mem := store.NewMemory(nil)
	calls := 0
	mem.FailInsert = func(table string, rows []store.Row) error {
		if table != schema.EquipmentTable {
			return nil
		}
		calls++
		if calls == 2 {
			return errors.New("deadlock detected")
		}
		return nil
	}
	ex := NewExecutor(mem, schema.Default(), ExecutorConfig{}, nil)

	out := ex.Execute(context.Background(), itemRecords(12), nil, nil, nil)

	if out.Succeeded != 7 || out.Failed != 5 {
		t.Errorf("succeeded/failed = %d/%d, want 7/5", out.Succeeded, out.Failed)
	}
	if out.Processed != 12 {
		t.Errorf("Processed = %d, want 12", out.Processed)
	}
	if len(out.Failures) != 5 {
		t.Fatalf("len(Failures) = %d, want 5", len(out.Failures))
	}
	for _, f := range out.Failures {
		if f.Row < 5 || f.Row > 9 {
			t.Errorf("failure for row %d, want rows 5-9", f.Row)
		}
		if !strings.Contains(f.Message, "deadlock") {
			t.Errorf("failure message = %q, want it to mention the store error", f.Message)
		}
		if !strings.HasPrefix(f.Message, "batch 2 (5 records)") {
			t.Errorf("failure message = %q, want the failed batch identified", f.Message)
		}
	}
	if got := len(mem.Rows(schema.EquipmentTable)); got != 7 {
		t.Errorf("stored rows = %d, want 7", got)
	}
}

func TestExecute_CreatesPendingReferences(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.Seed("categories", store.Row{"id": "cat-1", "name": "Mixers"})

	records := categoryRecords("Mixers", "Scaffolding", "Scaffolding")
	m := FieldMapping{schema.FieldName: "Name", schema.FieldCategory: "Category"}
	refs := resolveFor(t, mem, records, m)

	out := NewExecutor(mem, schema.Default(), ExecutorConfig{}, nil).
		Execute(context.Background(), records, refs, nil, nil)

	if out.Succeeded != 3 {
		t.Fatalf("Succeeded = %d, want 3 (failures: %v)", out.Succeeded, out.Failures)
	}

	cats := mem.Rows("categories")
	if len(cats) != 2 {
		t.Fatalf("categories = %d, want 2", len(cats))
	}
	var scaffoldingID string
	for _, c := range cats {
		if c.String("name") == "Scaffolding" {
			scaffoldingID = c.String("id")
		}
	}
	if _, err := uuid.Parse(scaffoldingID); err != nil {
		t.Errorf("created category id %q is not a UUID", scaffoldingID)
	}

	counts := map[string]int{}
	for _, row := range mem.Rows(schema.EquipmentTable) {
		counts[row.String("category_id")]++
	}
	if counts["cat-1"] != 1 || counts[scaffoldingID] != 2 {
		t.Errorf("category_id counts = %v, want cat-1:1 %s:2", counts, scaffoldingID)
	}
}

func TestExecute_AdoptsConcurrentlyCreatedReference(t *testing.T) {
	mem := store.NewMemory(map[string][]string{"categories": {"name"}})

	records := categoryRecords("Lifts")
	m := FieldMapping{schema.FieldName: "Name", schema.FieldCategory: "Category"}
	refs := resolveFor(t, mem, records, m)

	// Someone else creates the entity between resolution and import.
	mem.Seed("categories", store.Row{"id": "theirs", "name": "Lifts"})

	out := NewExecutor(mem, schema.Default(), ExecutorConfig{}, nil).
		Execute(context.Background(), records, refs, nil, nil)

	if len(out.ReferenceFailures) != 0 {
		t.Fatalf("ReferenceFailures = %v, want none", out.ReferenceFailures)
	}
	rows := mem.Rows(schema.EquipmentTable)
	if len(rows) != 1 || rows[0].String("category_id") != "theirs" {
		t.Errorf("equipment rows = %v, want category_id theirs", rows)
	}
}

func TestExecute_ReferenceCreationFailure(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.FailInsert = func(table string, rows []store.Row) error {
		if table == "categories" && rows[0].String("name") == "Broken" {
			return errors.New("permission denied")
		}
		return nil
	}

	records := categoryRecords("Broken", "Fine", "Broken")
	m := FieldMapping{schema.FieldName: "Name", schema.FieldCategory: "Category"}
	refs := resolveFor(t, mem, records, m)

	out := NewExecutor(mem, schema.Default(), ExecutorConfig{}, nil).
		Execute(context.Background(), records, refs, nil, nil)

	if len(out.ReferenceFailures) != 1 || out.ReferenceFailures[0].Name != "Broken" {
		t.Fatalf("ReferenceFailures = %v, want one for Broken", out.ReferenceFailures)
	}
	if out.Succeeded != 1 || out.Failed != 2 {
		t.Errorf("succeeded/failed = %d/%d, want 1/2", out.Succeeded, out.Failed)
	}
	for _, f := range out.Failures {
		if !strings.Contains(f.Message, "could not be created") {
			t.Errorf("failure message = %q, want reference creation error", f.Message)
		}
	}
}

func TestExecute_CancelStopsAtBatchBoundary(t *testing.T) {
	mem := store.NewMemory(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := NewExecutor(mem, schema.Default(), ExecutorConfig{}, nil).
		Execute(ctx, itemRecords(12), nil, nil, func(o ImportOutcome) {
			if o.Batches == 1 {
				cancel()
			}
		})

	if !out.Aborted {
		t.Error("Aborted = false, want true")
	}
	if out.Processed != 5 || out.Succeeded != 5 {
		t.Errorf("processed/succeeded = %d/%d, want 5/5", out.Processed, out.Succeeded)
	}
	if got := mem.Batches(schema.EquipmentTable); !slices.Equal(got, []int{5}) {
		t.Errorf("batches = %v, want [5]", got)
	}
}

type stubImages map[string]string

func (s stubImages) StoredURL(recordID string) (string, bool) {
	u, ok := s[recordID]
	return u, ok
}

func TestExecute_Normalize(t *testing.T) {
	stored := uuid.NewString()
	records := []Record{
		NewRecord(stored, 0, map[schema.Field]string{
			schema.FieldName:      " Mixer ",
			schema.FieldDailyRate: "R$ 1.234,56",
			schema.FieldImageURL:  "http://src.example/a.jpg",
		}),
		NewRecord("not-a-uuid", 1, map[schema.Field]string{
			schema.FieldName:        "Saw",
			schema.FieldWeeklyRate:  "40",
			schema.FieldImageURL:    "http://a.example/1.jpg | http://a.example/2.jpg",
			schema.FieldDescription: "internal",
		}),
	}
	images := stubImages{stored: "https://cdn.example/mixer.webp"}

	mem := store.NewMemory(nil)
	ex := NewExecutor(mem, schema.Default(), ExecutorConfig{DisallowedColumns: []string{"description"}}, nil)
	out := ex.Execute(context.Background(), records, nil, images, nil)
	if out.Succeeded != 2 {
		t.Fatalf("Succeeded = %d, want 2 (failures: %v)", out.Succeeded, out.Failures)
	}

	rows := mem.Rows(schema.EquipmentTable)
	first, second := rows[0], rows[1]

	if first["id"] != stored {
		t.Errorf("id = %v, want record id %s", first["id"], stored)
	}
	if first["name"] != "Mixer" {
		t.Errorf("name = %q, want trimmed", first["name"])
	}
	if first["daily_rate"] != 1234.56 {
		t.Errorf("daily_rate = %v, want 1234.56", first["daily_rate"])
	}
	if first["image_url"] != "https://cdn.example/mixer.webp" {
		t.Errorf("image_url = %v, want stored URL", first["image_url"])
	}

	if _, err := uuid.Parse(second.String("id")); err != nil {
		t.Errorf("id = %v, want a fresh UUID", second["id"])
	}
	if second["image_url"] != "http://a.example/1.jpg" {
		t.Errorf("image_url = %v, want first URL of the list", second["image_url"])
	}
	if second["weekly_rate"] != 40.0 {
		t.Errorf("weekly_rate = %v, want 40", second["weekly_rate"])
	}
	if _, ok := second["description"]; ok {
		t.Error("disallowed column description was written")
	}
	if _, ok := second["daily_rate"]; ok {
		t.Error("empty daily_rate was written")
	}
}

func TestExecute_UnparseableNumberFailsRecord(t *testing.T) {
	records := []Record{
		NewRecord("", 0, map[schema.Field]string{schema.FieldName: "A", schema.FieldDailyRate: "call us"}),
		NewRecord("", 1, map[schema.Field]string{schema.FieldName: "B", schema.FieldDailyRate: "12"}),
	}
	mem := store.NewMemory(nil)

	out := NewExecutor(mem, schema.Default(), ExecutorConfig{}, nil).
		Execute(context.Background(), records, nil, nil, nil)

	if out.Succeeded != 1 || out.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 1/1", out.Succeeded, out.Failed)
	}
	if got := mem.Batches(schema.EquipmentTable); !slices.Equal(got, []int{1}) {
		t.Errorf("batches = %v, want [1]", got)
	}
}
