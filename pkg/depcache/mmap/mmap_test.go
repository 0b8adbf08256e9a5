package mmap_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/mmap"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "artifact")

	err := os.WriteFile(path, data, 0o600)
	if err != nil {
		t.Fatalf("write file: %v", err)
	}

	return path
}

func sparseFile(t *testing.T, size int64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sparse")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	defer func() { _ = f.Close() }()

	err = f.Truncate(size)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return path
}

func Test_Open_Returns_File_Contents(t *testing.T) {
	t.Parallel()

	var r mmap.Registry

	path := writeFile(t, []byte("hello mapping"))

	data, err := r.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if string(data) != "hello mapping" {
		t.Fatalf("data = %q, want %q", data, "hello mapping")
	}
}

func Test_Open_Reuses_Mapping_When_Called_Twice(t *testing.T) {
	t.Parallel()

	var r mmap.Registry

	path := writeFile(t, []byte("abc"))

	first, err := r.Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}

	second, err := r.Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}

	if &first[0] != &second[0] {
		t.Fatal("second open returned a different mapping")
	}

	if r.Len() != 1 {
		t.Fatalf("mappings = %d, want 1", r.Len())
	}
}

func Test_Open_Creates_One_Mapping_When_Called_Concurrently(t *testing.T) {
	t.Parallel()

	var r mmap.Registry

	path := writeFile(t, []byte("shared"))

	const workers = 16

	results := make([][]byte, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup

	start := make(chan struct{})

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			<-start

			results[i], errs[i] = r.Open(path)
		}()
	}

	close(start)
	wg.Wait()

	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}

		if &results[i][0] != &results[0][0] {
			t.Fatalf("worker %d received a different mapping", i)
		}
	}

	if r.Len() != 1 {
		t.Fatalf("mappings = %d, want 1", r.Len())
	}
}

func Test_Open_Maps_Distinct_Paths_Separately(t *testing.T) {
	t.Parallel()

	var r mmap.Registry

	a := writeFile(t, []byte("a"))
	b := writeFile(t, []byte("b"))

	_, err := r.Open(a)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}

	_, err = r.Open(b)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}

	if r.Len() != 2 {
		t.Fatalf("mappings = %d, want 2", r.Len())
	}
}

func Test_Open_Returns_Empty_Slice_When_File_Is_Empty(t *testing.T) {
	t.Parallel()

	var r mmap.Registry

	data, err := r.Open(writeFile(t, nil))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if len(data) != 0 {
		t.Fatalf("len = %d, want 0", len(data))
	}
}

func Test_Open_Fails_With_ErrTooLarge_When_File_Is_Exactly_2GiB(t *testing.T) {
	t.Parallel()

	var r mmap.Registry

	_, err := r.Open(sparseFile(t, 2<<30))
	if !errors.Is(err, mmap.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}

	if r.Len() != 0 {
		t.Fatalf("mappings = %d, want 0", r.Len())
	}
}

func Test_Open_Succeeds_When_File_Is_One_Byte_Under_Limit(t *testing.T) {
	t.Parallel()

	var r mmap.Registry

	data, err := r.Open(sparseFile(t, mmap.MaxSize))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if len(data) != mmap.MaxSize {
		t.Fatalf("len = %d, want %d", len(data), mmap.MaxSize)
	}
}

func Test_Open_Wraps_Error_When_File_Is_Missing(t *testing.T) {
	t.Parallel()

	var r mmap.Registry

	_, err := r.Open(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want wrapped ErrNotExist", err)
	}
}
