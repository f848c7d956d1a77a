package registry

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(nil)
}

func analyst(name string, max int) Registration {
	return Registration{
		Name: name,
		Role: RoleSpecialist,
		Capabilities: []Capability{
			{Name: "data_analysis"},
			{Name: "reporting"},
		},
		MaxConcurrentTasks: max,
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(analyst("ada", 2)); err != nil {
		t.Fatalf("register: %v", err)
	}

	snap, err := r.Get("ada")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != StatusAvailable {
		t.Errorf("status = %q, want %q", snap.Status, StatusAvailable)
	}
	if snap.Load() != 0 {
		t.Errorf("load = %d, want 0", snap.Load())
	}
	if !snap.HasCapability("data_analysis") {
		t.Error("expected data_analysis capability")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(analyst("ada", 2)); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(analyst("ada", 2))
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Fatalf("err = %v, want ErrDuplicateAgent", err)
	}
}

func TestDeregister(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(analyst("ada", 2)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Deregister("ada"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := r.Get("ada"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
	if err := r.Deregister("ada"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("second deregister err = %v, want ErrUnknownAgent", err)
	}
}

func TestFindCandidates(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(analyst("ada", 2)); err != nil {
		t.Fatalf("register ada: %v", err)
	}
	if err := r.Register(Registration{
		Name:               "bob",
		Role:               RoleExecutor,
		Capabilities:       []Capability{{Name: "web_scraping"}},
		MaxConcurrentTasks: 2,
	}); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if err := r.Register(analyst("eve", 2)); err != nil {
		t.Fatalf("register eve: %v", err)
	}

	eligible := []string{"ada", "bob", "eve"}

	got := r.FindCandidates([]string{"data_analysis"}, eligible)
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}
	for _, s := range got {
		if s.Name == "bob" {
			t.Error("bob has no matching capability, should not be a candidate")
		}
	}

	// Offline agents are skipped even when they match.
	if err := r.SetStatus("eve", StatusOffline); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got = r.FindCandidates([]string{"data_analysis"}, eligible)
	if len(got) != 1 || got[0].Name != "ada" {
		t.Fatalf("candidates after eve offline = %+v, want only ada", got)
	}

	// Agents outside the eligible set never appear.
	got = r.FindCandidates([]string{"data_analysis"}, []string{"bob"})
	if len(got) != 0 {
		t.Fatalf("candidates = %d, want 0", len(got))
	}
}

func TestReserveCapacity(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(analyst("ada", 2)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Reserve("ada", "t1"); err != nil {
		t.Fatalf("reserve t1: %v", err)
	}
	if err := r.Reserve("ada", "t2"); err != nil {
		t.Fatalf("reserve t2: %v", err)
	}

	snap, _ := r.Get("ada")
	if snap.Status != StatusBusy {
		t.Errorf("status at capacity = %q, want %q", snap.Status, StatusBusy)
	}

	if err := r.Reserve("ada", "t3"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}

	if err := r.Release("ada", "t1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	snap, _ = r.Get("ada")
	if snap.Status != StatusAvailable {
		t.Errorf("status after release = %q, want %q", snap.Status, StatusAvailable)
	}
	if err := r.Reserve("ada", "t3"); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestReserveConcurrent(t *testing.T) {
	r := newTestRegistry(t)

	const capacity = 3
	if err := r.Register(analyst("ada", capacity)); err != nil {
		t.Fatalf("register: %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- r.Reserve("ada", "task-"+string(rune('a'+n)))
		}(i)
	}
	wg.Wait()
	close(errs)

	granted := 0
	for err := range errs {
		if err == nil {
			granted++
		} else if !errors.Is(err, ErrCapacityExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if granted != capacity {
		t.Fatalf("granted = %d, want %d", granted, capacity)
	}

	snap, _ := r.Get("ada")
	if snap.Load() != capacity {
		t.Fatalf("load = %d, want %d", snap.Load(), capacity)
	}
}

func TestRecordPerformance(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Register(analyst("ada", 2)); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := range 7 {
		err := r.RecordPerformance("ada", PerformanceSample{
			TaskID:       "t" + string(rune('0'+i)),
			Duration:     time.Second,
			QualityScore: 0.8,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	report, err := r.Performance("ada")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if report.TasksCompleted != 7 {
		t.Errorf("tasks completed = %d, want 7", report.TasksCompleted)
	}
	if len(report.Recent) != 5 {
		t.Errorf("recent = %d, want 5", len(report.Recent))
	}
	if report.AverageQuality < 0.79 || report.AverageQuality > 0.81 {
		t.Errorf("average quality = %f, want 0.8", report.AverageQuality)
	}
}

func TestListSorted(t *testing.T) {
	r := newTestRegistry(t)

	for _, name := range []string{"zoe", "ada", "mia"} {
		if err := r.Register(analyst(name, 1)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("list = %d, want 3", len(list))
	}
	want := []string{"ada", "mia", "zoe"}
	for i, s := range list {
		if s.Name != want[i] {
			t.Errorf("list[%d] = %q, want %q", i, s.Name, want[i])
		}
	}
}
