// Package store holds recordings in process memory.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetscribe/internal/domain"
)

// DefaultListLimit caps listings when the caller passes no limit.
const DefaultListLimit = 50

// ErrNotFound is returned when patching an unknown recording.
var ErrNotFound = errors.New("recording not found")

type entry struct {
	seq       uint64
	recording domain.Recording
}

// Memory implements ports.RecordingStore. Each Patch is atomic for its
// recording; concurrent patches are last-writer-wins per field.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*entry
	seq     uint64
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*entry), now: time.Now}
}

func (m *Memory) Create(ctx context.Context, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := m.now()
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.records[id] = &entry{
		seq: m.seq,
		recording: domain.Recording{
			ID:        id,
			Title:     title,
			Status:    domain.RecordingStatusRecording,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	return id, nil
}

func (m *Memory) Patch(ctx context.Context, id string, patch domain.RecordingPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}

	r := &e.recording
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if patch.Duration != nil {
		r.Duration = *patch.Duration
	}
	if patch.Transcript != nil {
		r.Transcript = *patch.Transcript
	}
	if patch.Insights != nil {
		insights := *patch.Insights
		r.Insights = &insights
	}
	if patch.ErrorMessage != nil {
		message := *patch.ErrorMessage
		r.ErrorMessage = &message
	}
	r.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (domain.Recording, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Recording{}, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[id]
	if !ok {
		return domain.Recording{}, false, nil
	}
	return cloneRecording(e.recording), true, nil
}

// List returns up to limit recordings, newest first.
func (m *Memory) List(ctx context.Context, limit int) ([]domain.RecordingSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	entries := m.sorted(func(domain.Recording) bool { return true })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]domain.RecordingSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.recording.Summary())
	}
	return out, nil
}

// ListByStatus returns every recording currently in status, newest first.
func (m *Memory) ListByStatus(ctx context.Context, status domain.RecordingStatus) ([]domain.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := m.sorted(func(r domain.Recording) bool { return r.Status == status })
	out := make([]domain.Recording, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneRecording(e.recording))
	}
	return out, nil
}

func (m *Memory) sorted(keep func(domain.Recording) bool) []entry {
	m.mu.RLock()
	out := make([]entry, 0, len(m.records))
	for _, e := range m.records {
		if keep(e.recording) {
			out = append(out, *e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

func cloneRecording(r domain.Recording) domain.Recording {
	if r.Insights != nil {
		insights := *r.Insights
		r.Insights = &insights
	}
	if r.ErrorMessage != nil {
		message := *r.ErrorMessage
		r.ErrorMessage = &message
	}
	return r
}
