package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"imgconv/internal/format"
)

// Store holds the staged image collections. All mutations are serialized so
// every entity is in exactly one collection at any observable instant.
type Store struct {
	mu       sync.Mutex
	stages   map[Stage][]*Entity
	location map[string]Stage
	inFlight map[string]struct{}
	// retired holds IDs of removed entities; they are never accepted again.
	retired map[string]struct{}

	listenerMu   sync.Mutex
	listeners    map[int]Listener
	nextListener int

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		stages:    make(map[Stage][]*Entity, 4),
		location:  make(map[string]Stage),
		inFlight:  make(map[string]struct{}),
		retired:   make(map[string]struct{}),
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddImage appends a freshly decoded entity to the uploaded collection.
func (s *Store) AddImage(e Entity) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if e.TargetFormat != format.None {
		return fmt.Errorf("%w: new image %s already has a target format", ErrInvalid, e.ID)
	}
	if e.Raster == nil {
		return fmt.Errorf("%w: image %s has no raster", ErrInvalid, e.ID)
	}

	s.mu.Lock()
	if _, exists := s.location[e.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	if _, gone := s.retired[e.ID]; gone {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s was removed and cannot be reused", ErrDuplicateID, e.ID)
	}
	e.Selected = false
	e.EncodedResult = nil
	e.Err = ""
	e.QueuedAt, e.CompletedAt = time.Time{}, time.Time{}
	if e.AddedAt.IsZero() {
		e.AddedAt = s.now()
	}
	s.appendLocked(StageUploaded, &e)
	s.mu.Unlock()

	s.emit(Event{Kind: EventAdded, Stages: []Stage{StageUploaded}, IDs: []string{e.ID}})
	return nil
}

// SetSelected sets the selection flag of one entity.
func (s *Store) SetSelected(id string, selected bool) error {
	s.mu.Lock()
	e, stage, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	changed := e.Selected != selected
	e.Selected = selected
	s.mu.Unlock()

	if changed {
		s.emit(Event{Kind: EventSelection, Stages: []Stage{stage}, IDs: []string{id}})
	}
	return nil
}

// ToggleSelected flips the selection flag of one entity and returns the new
// value.
func (s *Store) ToggleSelected(id string) (bool, error) {
	s.mu.Lock()
	e, stage, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	e.Selected = !e.Selected
	selected := e.Selected
	s.mu.Unlock()

	s.emit(Event{Kind: EventSelection, Stages: []Stage{stage}, IDs: []string{id}})
	return selected, nil
}

// ToggleSelectAll sets the selection flag on every entity of stage and
// returns how many entities changed.
func (s *Store) ToggleSelectAll(stage Stage, state bool) int {
	s.mu.Lock()
	var ids []string
	for _, e := range s.stages[stage] {
		if e.Selected != state {
			e.Selected = state
			ids = append(ids, e.ID)
		}
	}
	s.mu.Unlock()

	if len(ids) > 0 {
		s.emit(Event{Kind: EventSelection, Stages: []Stage{stage}, IDs: ids})
	}
	return len(ids)
}

// QueueSelected moves every selected uploaded entity to the queued
// collection, preserving their relative order, stamping target on each and
// clearing their selection. It returns the moved IDs.
func (s *Store) QueueSelected(target format.Format) ([]string, error) {
	if target == format.None || !target.Known() {
		return nil, fmt.Errorf("%w: got %q", ErrNoTarget, target)
	}

	s.mu.Lock()
	now := s.now()
	uploaded := s.stages[StageUploaded]
	kept := uploaded[:0:0]
	var moved []string
	for _, e := range uploaded {
		if !e.Selected {
			kept = append(kept, e)
			continue
		}
		e.Selected = false
		e.TargetFormat = target
		e.QueuedAt = now
		s.stages[StageQueued] = append(s.stages[StageQueued], e)
		s.location[e.ID] = StageQueued
		moved = append(moved, e.ID)
	}
	s.stages[StageUploaded] = kept
	s.mu.Unlock()

	if len(moved) > 0 {
		s.emit(Event{Kind: EventQueued, Stages: []Stage{StageUploaded, StageQueued}, IDs: moved})
	}
	return moved, nil
}

// DrainOneToOutput converts one eligible queued entity. The entity stays in
// the queued collection, marked in flight, while convert runs without the
// lock held, then moves to output on success or failed on error. It returns
// ErrQueueEmpty when nothing is eligible.
func (s *Store) DrainOneToOutput(order Order, convert ConvertFunc) (DrainResult, error) {
	if convert == nil {
		return DrainResult{}, errors.New("store: nil convert function")
	}

	s.mu.Lock()
	picked := s.pickLocked(order)
	if picked == nil {
		s.mu.Unlock()
		return DrainResult{}, ErrQueueEmpty
	}
	s.inFlight[picked.ID] = struct{}{}
	snapshot := *picked
	s.mu.Unlock()

	s.emit(Event{Kind: EventConverting, Stages: []Stage{StageQueued}, IDs: []string{snapshot.ID}})

	encoded, convErr := safeConvert(convert, snapshot)
	if convErr == nil && len(encoded) == 0 {
		convErr = errors.New("conversion produced no data")
	}

	s.mu.Lock()
	delete(s.inFlight, picked.ID)
	s.removeLocked(StageQueued, picked.ID)
	picked.Attempts++
	picked.Selected = false
	picked.CompletedAt = s.now()
	dest := StageOutput
	if convErr != nil {
		dest = StageFailed
		picked.Err = convErr.Error()
		picked.EncodedResult = nil
	} else {
		picked.Err = ""
		picked.EncodedResult = encoded
	}
	s.appendLocked(dest, picked)
	result := DrainResult{Entity: *picked, Stage: dest, Err: convErr}
	s.mu.Unlock()

	kind := EventConverted
	if dest == StageFailed {
		kind = EventFailed
	}
	s.emit(Event{Kind: kind, Stages: []Stage{StageQueued, dest}, IDs: []string{result.Entity.ID}})
	return result, nil
}

func safeConvert(convert ConvertFunc, e Entity) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("conversion panic: %v", r)
		}
	}()
	return convert(e)
}

func (s *Store) pickLocked(order Order) *Entity {
	queued := s.stages[StageQueued]
	if order == LIFO {
		for i := len(queued) - 1; i >= 0; i-- {
			if _, busy := s.inFlight[queued[i].ID]; !busy {
				return queued[i]
			}
		}
		return nil
	}
	for _, e := range queued {
		if _, busy := s.inFlight[e.ID]; !busy {
			return e
		}
	}
	return nil
}

// RetryFailed moves failed entities back to the queued collection with their
// original target. With no ids every failed entity is retried. It returns the
// number of entities moved.
func (s *Store) RetryFailed(ids ...string) int {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	s.mu.Lock()
	now := s.now()
	failed := s.stages[StageFailed]
	kept := failed[:0:0]
	var moved []string
	for _, e := range failed {
		if _, ok := wanted[e.ID]; len(ids) > 0 && !ok {
			kept = append(kept, e)
			continue
		}
		e.Err = ""
		e.Selected = false
		e.CompletedAt = time.Time{}
		e.QueuedAt = now
		s.stages[StageQueued] = append(s.stages[StageQueued], e)
		s.location[e.ID] = StageQueued
		moved = append(moved, e.ID)
	}
	s.stages[StageFailed] = kept
	s.mu.Unlock()

	if len(moved) > 0 {
		s.emit(Event{Kind: EventRetried, Stages: []Stage{StageFailed, StageQueued}, IDs: moved})
	}
	return len(moved)
}

// RemoveSelected drops selected entities from stage. Queued entities cannot
// be removed. Removed IDs are retired: AddImage rejects them afterwards.
func (s *Store) RemoveSelected(stage Stage) (int, error) {
	if stage == StageQueued {
		return 0, fmt.Errorf("%w: queued images cannot be removed", ErrInvalid)
	}

	s.mu.Lock()
	entities := s.stages[stage]
	kept := entities[:0:0]
	var removed []string
	for _, e := range entities {
		if e.Selected {
			delete(s.location, e.ID)
			s.retired[e.ID] = struct{}{}
			removed = append(removed, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.stages[stage] = kept
	s.mu.Unlock()

	if len(removed) > 0 {
		s.emit(Event{Kind: EventRemoved, Stages: []Stage{stage}, IDs: removed})
	}
	return len(removed), nil
}

// Snapshot returns copies of the entities in stage, in collection order.
func (s *Store) Snapshot(stage Stage) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyEntities(s.stages[stage], func(*Entity) bool { return true })
}

// Selected returns copies of the selected entities in stage.
func (s *Store) Selected(stage Stage) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyEntities(s.stages[stage], func(e *Entity) bool { return e.Selected })
}

// Get returns a copy of the entity with id and the stage holding it.
func (s *Store) Get(id string) (Entity, Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, stage, err := s.findLocked(id)
	if err != nil {
		return Entity{}, "", false
	}
	return *e, stage, true
}

// Counts returns the size of every collection.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Uploaded: len(s.stages[StageUploaded]),
		Queued:   len(s.stages[StageQueued]),
		InFlight: len(s.inFlight),
		Output:   len(s.stages[StageOutput]),
		Failed:   len(s.stages[StageFailed]),
	}
}

// HasPending reports whether a queued entity is eligible for conversion.
func (s *Store) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stages[StageQueued]) > len(s.inFlight)
}

// Subscribe registers l for events and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

func (s *Store) emit(ev Event) {
	s.listenerMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextListener; id++ {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.listenerMu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func (s *Store) appendLocked(stage Stage, e *Entity) {
	s.stages[stage] = append(s.stages[stage], e)
	s.location[e.ID] = stage
}

func (s *Store) removeLocked(stage Stage, id string) {
	entities := s.stages[stage]
	for i, e := range entities {
		if e.ID == id {
			s.stages[stage] = append(entities[:i:i], entities[i+1:]...)
			delete(s.location, id)
			return
		}
	}
}

func (s *Store) findLocked(id string) (*Entity, Stage, error) {
	stage, ok := s.location[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, e := range s.stages[stage] {
		if e.ID == id {
			return e, stage, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

func copyEntities(entities []*Entity, keep func(*Entity) bool) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if keep(e) {
			out = append(out, *e)
		}
	}
	return out
}
