package testsupport

import (
	"context"
	"testing"

	"imgconv/internal/format"
	"imgconv/internal/journal"
	"imgconv/internal/store"
)

// MustOpenJournal opens the configured journal for tests and registers cleanup.
func MustOpenJournal(t testing.TB, path string) *journal.Journal {
	t.Helper()

	j, err := journal.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = j.Close()
	})
	return j
}

// AddUploaded adds one 2×2 PNG-sourced entity per name to st and returns
// their IDs in order.
func AddUploaded(t testing.TB, st *store.Store, names ...string) []string {
	t.Helper()

	ids := make([]string, 0, len(names))
	for _, name := range names {
		e := store.NewEntity(name, format.PNG, Gradient(2, 2), "")
		if err := st.AddImage(e); err != nil {
			t.Fatalf("AddImage(%s): %v", name, err)
		}
		ids = append(ids, e.ID)
	}
	return ids
}

// QueueAll adds names to st and queues them for target.
func QueueAll(t testing.TB, st *store.Store, target format.Format, names ...string) []string {
	t.Helper()

	AddUploaded(t, st, names...)
	st.ToggleSelectAll(store.StageUploaded, true)
	ids, err := st.QueueSelected(target)
	if err != nil {
		t.Fatalf("QueueSelected: %v", err)
	}
	return ids
}
