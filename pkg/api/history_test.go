package api

import (
	"testing"
	"time"

	"plotbot-go/pkg/plotter"
)

func newTestHistory() (*History, *time.Time) {
	h := NewHistory()
	now := time.Unix(1700000000, 0)
	h.now = func() time.Time { return now }
	return h, &now
}

func TestHistoryLifecycle(t *testing.T) {
	h, now := newTestHistory()

	job := h.Start("spiral", 24)
	if job.Status != JobInProgress || job.EndTime != nil {
		t.Fatalf("new job = %+v", job)
	}
	if !h.Active() {
		t.Fatal("history should be active")
	}

	// still drawing
	if done := h.Observe(plotter.Status{Mode: "normal", QueueDepth: 12}); done != nil {
		t.Errorf("finished early: %v", done)
	}

	*now = now.Add(90 * time.Second)
	done := h.Observe(plotter.Status{Mode: "normal"})
	if len(done) != 1 || done[0].JobID != job.JobID {
		t.Fatalf("done = %v", done)
	}
	got, err := h.Get(job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobCompleted || got.TotalDuration != 90 || got.EndTime == nil {
		t.Errorf("job = %+v", got)
	}
	if h.Active() {
		t.Error("history still active")
	}
}

func TestHistoryObserveFault(t *testing.T) {
	h, _ := newTestHistory()
	job := h.Start("line", 1)

	// queued before homing finishes
	if done := h.Observe(plotter.Status{Mode: "homing"}); done != nil {
		t.Errorf("homing finished job: %v", done)
	}
	h.Observe(plotter.Status{Mode: "faulted", QueueDepth: 3})
	got, _ := h.Get(job.JobID)
	if got.Status != JobError {
		t.Errorf("status = %s, want error", got.Status)
	}
}

func TestHistoryListOrderAndPaging(t *testing.T) {
	h, now := newTestHistory()
	for _, name := range []string{"a", "b", "c"} {
		h.Start(name, 1)
		*now = now.Add(time.Second)
	}

	names := func(jobs []JobRecord) string {
		s := ""
		for _, j := range jobs {
			s += j.Name
		}
		return s
	}
	if got := names(h.List(0, 0, "")); got != "cba" {
		t.Errorf("desc = %s", got)
	}
	if got := names(h.List(0, 0, "asc")); got != "abc" {
		t.Errorf("asc = %s", got)
	}
	if got := names(h.List(1, 1, "")); got != "b" {
		t.Errorf("page = %s", got)
	}
	if got := h.List(5, 10, ""); len(got) != 0 {
		t.Errorf("past end = %v", got)
	}
}

func TestHistoryTotalsAndDelete(t *testing.T) {
	h, now := newTestHistory()
	a := h.Start("a", 1)
	*now = now.Add(10 * time.Second)
	h.Finish(JobCompleted)
	h.Start("b", 1)
	*now = now.Add(30 * time.Second)
	h.Finish(JobCancelled)

	totals := h.Totals()
	if totals.TotalJobs != 2 || totals.Completed != 1 {
		t.Errorf("totals = %+v", totals)
	}
	if totals.TotalTime != 40 || totals.LongestJob != 30 {
		t.Errorf("times = %+v", totals)
	}

	if err := h.Delete(a.JobID); err != nil {
		t.Fatal(err)
	}
	if err := h.Delete(a.JobID); err == nil {
		t.Error("second delete should fail")
	}
	if got := h.List(0, 0, ""); len(got) != 1 || got[0].Name != "b" {
		t.Errorf("after delete = %v", got)
	}
}

func TestHistoryGetReturnsCopy(t *testing.T) {
	h, _ := newTestHistory()
	job := h.Start("a", 1)
	got, _ := h.Get(job.JobID)
	got.Status = "tampered"
	again, _ := h.Get(job.JobID)
	if again.Status != JobInProgress {
		t.Errorf("stored job modified through Get: %s", again.Status)
	}
}
