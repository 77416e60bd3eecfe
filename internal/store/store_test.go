package store

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/quantuminterface/qicode/internal/compiler"
	"github.com/quantuminterface/qicode/internal/qicode"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "qicc.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func compileTestJob(t *testing.T, name string) *compiler.CompiledJob {
	t.Helper()
	j := qicode.NewJob(qicode.WithoutNCOSync())
	cells := qicode.NewCells(j, 2)
	j.Play(cells[0], qicode.NewPulse(100e-9))
	j.Recording(cells[0], 400e-9, qicode.SaveTo("iq"))
	j.Wait(cells[1], 100e-9)

	cj, err := compiler.Build(j, compiler.WithName(name))
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return cj
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qicc.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qicc.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestSaveBuild_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cj := compileTestJob(t, "ramsey")

	if err := s.SaveBuild(ctx, cj); err != nil {
		t.Fatalf("SaveBuild() failed: %v", err)
	}

	b, err := s.LoadBuild(ctx, cj.BuildID.String())
	if err != nil {
		t.Fatalf("LoadBuild() failed: %v", err)
	}
	if b.ID != cj.BuildID.String() {
		t.Errorf("ID = %q, want %q", b.ID, cj.BuildID.String())
	}
	if b.Name != "ramsey" {
		t.Errorf("Name = %q, want %q", b.Name, "ramsey")
	}
	if !b.CreatedAt.Equal(cj.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", b.CreatedAt, cj.CreatedAt)
	}
	if b.CellCount != 2 {
		t.Errorf("CellCount = %d, want 2", b.CellCount)
	}
	if len(b.Programs) != 2 {
		t.Fatalf("got %d programs, want 2", len(b.Programs))
	}
	for i, p := range b.Programs {
		if p.CellIndex != i {
			t.Errorf("program %d: CellIndex = %d", i, p.CellIndex)
		}
		if !reflect.DeepEqual(p.Words, cj.Programs[i].Words()) {
			t.Errorf("program %d: words do not round trip", i)
		}
		if !reflect.DeepEqual(p.Listing, cj.Programs[i].Listing()) {
			t.Errorf("program %d: listing does not round trip", i)
		}
	}
	if !reflect.DeepEqual(b.Programs[0].ResultOrder, []string{"iq"}) {
		t.Errorf("ResultOrder = %v, want [iq]", b.Programs[0].ResultOrder)
	}
	if len(b.Programs[1].ResultOrder) != 0 {
		t.Errorf("cell 1 ResultOrder = %v, want empty", b.Programs[1].ResultOrder)
	}
}

func TestSaveBuild_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cj := compileTestJob(t, "rabi")

	if err := s.SaveBuild(ctx, cj); err != nil {
		t.Fatalf("first SaveBuild() failed: %v", err)
	}
	if err := s.SaveBuild(ctx, cj); err != nil {
		t.Fatalf("second SaveBuild() failed: %v", err)
	}

	builds, err := s.ListBuilds(ctx, 0)
	if err != nil {
		t.Fatalf("ListBuilds() failed: %v", err)
	}
	if len(builds) != 1 {
		t.Errorf("got %d builds, want 1", len(builds))
	}
}

func TestSaveBuild_KeepsDiagnostics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := qicode.NewJob(qicode.WithoutNCOSync())
	cells := qicode.NewCells(j, 1)
	i := j.IntVariable(qicode.WithName("i"))
	n := j.IntVariable()
	j.ForRange(i, 0, n, 1, func() {
		j.Wait(cells[0], 100e-9)
	})
	cj, err := compiler.Build(j)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if len(cj.Diagnostics) == 0 {
		t.Fatal("expected a progress diagnostic on the build")
	}

	if err := s.SaveBuild(ctx, cj); err != nil {
		t.Fatalf("SaveBuild() failed: %v", err)
	}
	b, err := s.LoadBuild(ctx, cj.BuildID.String())
	if err != nil {
		t.Fatalf("LoadBuild() failed: %v", err)
	}
	if !reflect.DeepEqual(b.Diagnostics, cj.Diagnostics) {
		t.Errorf("diagnostics do not round trip:\ngot  %v\nwant %v", b.Diagnostics, cj.Diagnostics)
	}
}

func TestLoadBuild_Missing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadBuild(context.Background(), "no-such-build")
	if err == nil {
		t.Fatal("expected an error for a missing build")
	}
	if !qicode.IsCode(err, qicode.CodeStoreFailed) {
		t.Errorf("error code = %v, want %v", qicode.CodeOf(err), qicode.CodeStoreFailed)
	}
}

func TestListBuilds_NewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := compileTestJob(t, "older")
	older.CreatedAt = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	newer := compileTestJob(t, "newer")
	newer.CreatedAt = time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	if err := s.SaveBuild(ctx, older); err != nil {
		t.Fatalf("SaveBuild(older) failed: %v", err)
	}
	if err := s.SaveBuild(ctx, newer); err != nil {
		t.Fatalf("SaveBuild(newer) failed: %v", err)
	}

	builds, err := s.ListBuilds(ctx, 0)
	if err != nil {
		t.Fatalf("ListBuilds() failed: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("got %d builds, want 2", len(builds))
	}
	if builds[0].Name != "newer" || builds[1].Name != "older" {
		t.Errorf("order = [%s %s], want [newer older]", builds[0].Name, builds[1].Name)
	}

	limited, err := s.ListBuilds(ctx, 1)
	if err != nil {
		t.Fatalf("ListBuilds(1) failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Name != "newer" {
		t.Errorf("limited list = %v, want just the newest", limited)
	}
}
