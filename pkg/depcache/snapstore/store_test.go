package snapstore_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/snapstore"
)

func openStore(t *testing.T, dir string) *snapstore.Store {
	t.Helper()

	s, err := snapstore.Open(t.Context(), dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func sampleRecord(id string, refreshed time.Time) snapstore.Record {
	return snapstore.Record{
		ID:        id,
		Cache:     "wordCount{corpus}",
		Path:      "/cache/" + id + "/0190",
		Outcome:   snapstore.OutcomeValue,
		Input:     "fp-1",
		Hash:      "hash-1",
		Size:      42,
		Attempt:   "0190-attempt",
		Updated:   refreshed.Add(-time.Minute),
		Refreshed: refreshed,
		Cost:      1500 * time.Millisecond,
	}
}

func Test_Open_Creates_Database_When_Directory_Missing(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "cache")

	s := openStore(t, dir)

	_, err := os.Stat(filepath.Join(dir, snapstore.FileName))
	if err != nil {
		t.Fatalf("stat database: %v", err)
	}

	if s.Path() != filepath.Join(dir, snapstore.FileName) {
		t.Fatalf("path = %s", s.Path())
	}
}

func Test_Save_Then_Load_Returns_Same_Record(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())

	want := sampleRecord("Words/abc", time.Unix(1700000000, 123))

	err := s.Save(t.Context(), want)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.Load(t.Context(), want.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !ok {
		t.Fatal("record not found")
	}

	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Reports_Missing_When_No_Record(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())

	_, ok, err := s.Load(t.Context(), "nope")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if ok {
		t.Fatal("unexpected record")
	}
}

func Test_Save_Replaces_Record_When_ID_Exists(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())

	rec := sampleRecord("Words/abc", time.Unix(1700000000, 0))

	err := s.Save(t.Context(), rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	rec.Outcome = snapstore.OutcomeFailure
	rec.Failure = "boom"

	err = s.Save(t.Context(), rec)
	if err != nil {
		t.Fatalf("save again: %v", err)
	}

	all, err := s.List(t.Context(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}

	if all[0].Outcome != snapstore.OutcomeFailure || all[0].Failure != "boom" {
		t.Fatalf("record = %+v", all[0])
	}
}

func Test_List_Filters_By_Prefix_Newest_First(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())

	base := time.Unix(1700000000, 0)

	for i, id := range []string{"Words/a", "Words/b", "Download/c"} {
		err := s.Save(t.Context(), sampleRecord(id, base.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, err := s.List(t.Context(), "Words/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var ids []string
	for _, rec := range got {
		ids = append(ids, rec.ID)
	}

	if diff := cmp.Diff([]string{"Words/b", "Words/a"}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func Test_Delete_Removes_Record(t *testing.T) {
	t.Parallel()

	s := openStore(t, t.TempDir())

	rec := sampleRecord("Words/a", time.Unix(1700000000, 0))

	err := s.Save(t.Context(), rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	err = s.Delete(t.Context(), rec.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, ok, err := s.Load(t.Context(), rec.ID)
	if err != nil || ok {
		t.Fatalf("load after delete: ok=%v err=%v", ok, err)
	}
}

func Test_Open_Drops_Records_When_Schema_Version_Mismatches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := snapstore.Open(t.Context(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	err = s.Save(t.Context(), sampleRecord("Words/a", time.Unix(1700000000, 0)))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	_ = s.Close()

	db, err := sql.Open("sqlite3", filepath.Join(dir, snapstore.FileName))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	_, err = db.ExecContext(t.Context(), "PRAGMA user_version = 99")
	if err != nil {
		t.Fatalf("set user_version: %v", err)
	}

	_ = db.Close()

	reopened := openStore(t, dir)

	all, err := reopened.List(t.Context(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(all) != 0 {
		t.Fatalf("records = %d, want 0 after rebuild", len(all))
	}
}

func Test_Store_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	s, err := snapstore.Open(t.Context(), t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_ = s.Close()

	_, _, err = s.Load(t.Context(), "x")
	if err != snapstore.ErrClosed { //nolint:errorlint // sentinel returned unwrapped
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
