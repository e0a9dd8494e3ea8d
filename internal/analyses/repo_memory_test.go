package analyses

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestMemoryRepoRoundTrip(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	cost := 15.0
	job := Job{
		ID:            "job-1",
		OwnerID:       "user-1",
		Status:        StatusPending,
		Condition:     ConditionLikeNew,
		EstimatedCost: &cost,
		Notes:         "boxed",
		ArtifactKey:   "user-1/photo.jpg",
		ArtifactMime:  "image/jpeg",
		ArtifactSize:  4096,
		RequestID:     "req-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, job) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, job)
	}
}

func TestMemoryRepoTransitionsNeverRegress(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Create(ctx, Job{ID: "job-1", OwnerID: "user-1", Status: StatusPending, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := repo.MarkAnalyzing(ctx, "job-1", now)
	if err != nil || !applied {
		t.Fatalf("mark analyzing: applied=%v err=%v", applied, err)
	}

	// A second claim loses.
	applied, err = repo.MarkAnalyzing(ctx, "job-1", now)
	if err != nil || applied {
		t.Fatalf("second mark analyzing should be a no-op: applied=%v err=%v", applied, err)
	}

	completedAt := time.Now().UTC()
	applied, err = repo.Complete(ctx, "job-1", &Result{ProductName: "Lamp"}, "gemini", "", completedAt)
	if err != nil || !applied {
		t.Fatalf("complete: applied=%v err=%v", applied, err)
	}

	// Terminal jobs cannot fail or restart.
	applied, err = repo.Fail(ctx, "job-1", ErrorCodeInternal, "late failure", false, time.Now().UTC())
	if err != nil || applied {
		t.Fatalf("fail after complete should be a no-op: applied=%v err=%v", applied, err)
	}
	applied, err = repo.MarkAnalyzing(ctx, "job-1", time.Now().UTC())
	if err != nil || applied {
		t.Fatalf("mark analyzing after complete should be a no-op: applied=%v err=%v", applied, err)
	}

	job, err := repo.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("status regressed to %q", job.Status)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(completedAt) {
		t.Fatalf("completedAt = %v, want %v", job.CompletedAt, completedAt)
	}
}

func TestMemoryRepoSetRawResponseCopiesPayload(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Create(ctx, Job{ID: "job-1", OwnerID: "user-1", Status: StatusPending, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}

	payload := []byte(`{"productName":"Lamp"}`)
	if err := repo.SetRawResponse(ctx, "job-1", json.RawMessage(payload)); err != nil {
		t.Fatalf("set raw: %v", err)
	}
	payload[2] = 'X'

	job, err := repo.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(job.RawResponse) != `{"productName":"Lamp"}` {
		t.Fatalf("raw response aliased caller buffer: %s", job.RawResponse)
	}
}

func TestMemoryRepoListByOwnerPaginates(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		job := Job{
			ID:        string(rune('a' + i)),
			OwnerID:   "user-1",
			Status:    StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	jobs, err := repo.ListByOwner(ctx, "user-1", 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	// Newest first, so offset 1 skips the most recent.
	if jobs[0].ID != "d" || jobs[1].ID != "c" {
		t.Fatalf("unexpected page: %s %s", jobs[0].ID, jobs[1].ID)
	}

	jobs, err = repo.ListByOwner(ctx, "user-1", 10, 99)
	if err != nil {
		t.Fatalf("list high offset: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty page, got %d", len(jobs))
	}
}
