package store

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"meetscribe/internal/domain"
)

func TestMemoryCreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	id, err := s.Create(context.Background(), "Meeting 1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	rec, ok, err := s.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%t err=%v", ok, err)
	}
	if rec.Title != "Meeting 1" || rec.Status != domain.RecordingStatusRecording || rec.Duration != 0 || rec.Transcript != "" {
		t.Fatalf("unexpected new recording: %+v", rec)
	}
	if rec.Insights != nil || rec.ErrorMessage != nil {
		t.Fatalf("new recording must not have insights or error")
	}

	if _, ok, _ := s.Get(context.Background(), "missing"); ok {
		t.Fatalf("expected missing recording")
	}
}

func TestMemoryPatchOnlyTouchesSetFields(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	id, _ := s.Create(context.Background(), "t")

	transcript := "hello"
	if err := s.Patch(context.Background(), id, domain.RecordingPatch{Transcript: &transcript}); err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	duration := 42
	status := domain.RecordingStatusProcessing
	if err := s.Patch(context.Background(), id, domain.RecordingPatch{Duration: &duration, Status: &status}); err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	rec, _, _ := s.Get(context.Background(), id)
	if rec.Transcript != "hello" || rec.Duration != 42 || rec.Status != domain.RecordingStatusProcessing {
		t.Fatalf("unexpected recording: %+v", rec)
	}

	if err := s.Patch(context.Background(), "missing", domain.RecordingPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	id, _ := s.Create(context.Background(), "t")
	insights := "original"
	_ = s.Patch(context.Background(), id, domain.RecordingPatch{Insights: &insights})

	rec, _, _ := s.Get(context.Background(), id)
	*rec.Insights = "mutated"

	again, _, _ := s.Get(context.Background(), id)
	if *again.Insights != "original" {
		t.Fatalf("store leaked internal state: %q", *again.Insights)
	}
}

func TestMemoryListNewestFirstWithLimit(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	for i := 0; i < 60; i++ {
		if _, err := s.Create(context.Background(), "m"+strconv.Itoa(i)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	list, err := s.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != DefaultListLimit {
		t.Fatalf("expected %d rows, got %d", DefaultListLimit, len(list))
	}
	if list[0].Title != "m59" || list[len(list)-1].Title != "m10" {
		t.Fatalf("unexpected order: first=%s last=%s", list[0].Title, list[len(list)-1].Title)
	}

	few, _ := s.List(context.Background(), 3)
	if len(few) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(few))
	}
}

func TestMemoryListByStatus(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	a, _ := s.Create(context.Background(), "a")
	_, _ = s.Create(context.Background(), "b")
	processing := domain.RecordingStatusProcessing
	_ = s.Patch(context.Background(), a, domain.RecordingPatch{Status: &processing})

	got, err := s.ListByStatus(context.Background(), domain.RecordingStatusProcessing)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != a {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestMemoryRespectsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemory().Create(ctx, "t"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
