package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mangafeed/internal/cachestore"
	"mangafeed/pkg/models"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeBackend is a hand-written Backend test double. Per-call errors and
// gates make failure and interleaving scenarios reproducible.
type fakeBackend struct {
	mu           sync.Mutex
	sources      []models.SourceDescriptor
	sourcesErr   error
	popular      map[string][]models.Manga
	popularCalls int
	searchFn     func(sourceID, genre string) ([]models.Manga, error)
	searchCalls  int
}

func (f *fakeBackend) ListSources(ctx context.Context) ([]models.SourceDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sourcesErr != nil {
		return nil, f.sourcesErr
	}
	return f.sources, nil
}

func (f *fakeBackend) Popular(ctx context.Context, sourceID string, page int) ([]models.Manga, error) {
	f.mu.Lock()
	f.popularCalls++
	items := f.popular[sourceID]
	f.mu.Unlock()
	return items, nil
}

func (f *fakeBackend) Search(ctx context.Context, sourceID, genre string, page int) ([]models.Manga, error) {
	f.mu.Lock()
	f.searchCalls++
	fn := f.searchFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(sourceID, genre)
}

type fakeLocal struct {
	mu         sync.Mutex
	records    []models.Manga
	recordsErr error
	history    []models.HistoryEntry
}

func (f *fakeLocal) Records(ctx context.Context) ([]models.Manga, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordsErr != nil {
		return nil, f.recordsErr
	}
	return f.records, nil
}

func (f *fakeLocal) History(ctx context.Context) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeLocal) setHistory(h []models.HistoryEntry) {
	f.mu.Lock()
	f.history = h
	f.mu.Unlock()
}

func newTestAssembler(backend Backend, local LocalStore) (*Assembler, *cachestore.Store) {
	log := zap.NewNop().Sugar()
	store := cachestore.New(log)
	a := NewAssembler(store, backend, local, nil, log, "en")
	a.now = func() time.Time { return testNow }
	return a, store
}

func sectionByKey(t *testing.T, snap Snapshot, key string) *Section {
	t.Helper()
	for i := range snap.Sections {
		if snap.Sections[i].Key == key {
			return &snap.Sections[i]
		}
	}
	return nil
}

func libraryManga(id int, title string, genres ...string) models.Manga {
	return models.Manga{ID: id, Title: title, Genres: genres, InLibrary: true}
}

func TestEndToEnd_ContinueReading(t *testing.T) {
	backend := &fakeBackend{
		sources: []models.SourceDescriptor{{ID: "1", Name: "Comick", Lang: "en"}},
	}
	local := &fakeLocal{
		records: []models.Manga{libraryManga(1, "Berserk", "Action")},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.5", PageNumber: 40, ReadAt: testNow.Add(-time.Hour)},
		},
	}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	snap := a.Snapshot()

	sec := sectionByKey(t, snap, SectionContinueReading)
	require.NotNil(t, sec)
	assert.Equal(t, StateReady, sec.State)
	require.Len(t, sec.Entries, 1)
	assert.Equal(t, 1, sec.Entries[0].Manga.ID)
	assert.Equal(t, "Ch.5", sec.Entries[0].Subtitle)
	assert.Equal(t, 1.0, sec.Entries[0].Progress, "page 40 over denominator 20, capped at 1")
}

func TestContinueReading_FirstOccurrencePerManga(t *testing.T) {
	backend := &fakeBackend{}
	local := &fakeLocal{
		records: []models.Manga{
			libraryManga(1, "Berserk", "Action"),
			libraryManga(2, "Monster", "Drama"),
		},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.9", PageNumber: 5, ReadAt: testNow.Add(-time.Hour)},
			{MangaID: 2, ChapterName: "Ch.2", PageNumber: 0, ReadAt: testNow.Add(-2 * time.Hour)},
			{MangaID: 1, ChapterName: "Ch.8", PageNumber: 20, ReadAt: testNow.Add(-3 * time.Hour)},
		},
	}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	sec := sectionByKey(t, a.Snapshot(), SectionContinueReading)

	require.Len(t, sec.Entries, 2)
	assert.Equal(t, "Ch.9", sec.Entries[0].Subtitle, "most recent session wins per manga")
	assert.Equal(t, "Ch.2", sec.Entries[1].Subtitle)
	assert.Equal(t, 0.0, sec.Entries[1].Progress, "unknown progress reads as 0")
}

func TestEndToEnd_PartialSourceFailure(t *testing.T) {
	backend := &fakeBackend{
		sources: []models.SourceDescriptor{
			{ID: "a", Name: "Comick", Lang: "en"},
			{ID: "b", Name: "Toonily", Lang: "en"},
		},
		searchFn: func(sourceID, genre string) ([]models.Manga, error) {
			if sourceID == "b" {
				return nil, errors.New("catalog down")
			}
			return []models.Manga{{ID: 5, Title: "X"}}, nil
		},
	}
	local := &fakeLocal{
		records: []models.Manga{libraryManga(1, "Berserk", "Action")},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.1", ReadAt: testNow.Add(-time.Hour)},
		},
	}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	snap := a.Snapshot()

	row := sectionByKey(t, snap, CategorySectionKey("Action"))
	require.NotNil(t, row)
	assert.Equal(t, StateReady, row.State, "a sibling failure must not error the row")
	require.Len(t, row.Entries, 1)
	assert.Equal(t, 5, row.Entries[0].Manga.ID)
	assert.NotEqual(t, StateError, snap.Global)
}

func TestEndToEnd_FoundationalFailureAndRetry(t *testing.T) {
	backend := &fakeBackend{
		sources: []models.SourceDescriptor{{ID: "1", Name: "Comick", Lang: "en"}},
	}
	local := &fakeLocal{recordsErr: errors.New("disk error")}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	snap := a.Snapshot()
	assert.Equal(t, StateError, snap.Global)
	assert.Equal(t, 0, snap.Attempt)

	// The store comes back; retry must clear the poisoned keys and re-run
	// with a bumped attempt counter.
	local.mu.Lock()
	local.recordsErr = nil
	local.records = []models.Manga{libraryManga(1, "Berserk", "Action")}
	local.mu.Unlock()

	a.Retry().Wait()
	snap = a.Snapshot()

	assert.Equal(t, 1, snap.Attempt)
	assert.NotEqual(t, StateError, snap.Global)
	sec := sectionByKey(t, snap, SectionRecommended)
	require.NotNil(t, sec)
	assert.Equal(t, StateReady, sec.State)
}

func TestCancellation_SupersededScopePublishesNothing(t *testing.T) {
	actionStarted := make(chan struct{})
	actionGate := make(chan struct{})
	var startOnce sync.Once

	backend := &fakeBackend{
		sources: []models.SourceDescriptor{{ID: "1", Name: "Comick", Lang: "en"}},
		searchFn: func(sourceID, genre string) ([]models.Manga, error) {
			if genre == "Action" {
				startOnce.Do(func() { close(actionStarted) })
				<-actionGate
				return []models.Manga{{ID: 99, Title: "stale result"}}, nil
			}
			return []models.Manga{{ID: 7, Title: "fresh result"}}, nil
		},
	}
	local := &fakeLocal{
		records: []models.Manga{
			libraryManga(1, "Berserk", "Action"),
			libraryManga(2, "Gintama", "Comedy"),
		},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.1", ReadAt: testNow.Add(-time.Hour)},
		},
	}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	// Batch A fans out for "Action" and blocks mid-fetch.
	scopeA := a.Refresh()
	<-actionStarted

	// History shifts the ranking to "Comedy"; batch B supersedes A.
	local.setHistory([]models.HistoryEntry{
		{MangaID: 2, ChapterName: "Ch.1", ReadAt: testNow.Add(-time.Minute)},
	})
	a.Refresh().Wait()

	// Now let A's stale fetch land; it must be discarded wholesale.
	close(actionGate)
	scopeA.Wait()

	snap := a.Snapshot()
	assert.Nil(t, sectionByKey(t, snap, CategorySectionKey("Action")),
		"superseded batch must not leave a row behind")

	row := sectionByKey(t, snap, CategorySectionKey("Comedy"))
	require.NotNil(t, row)
	assert.Equal(t, StateReady, row.State)
	require.Len(t, row.Entries, 1)
	assert.Equal(t, 7, row.Entries[0].Manga.ID)

	for _, sec := range snap.Sections {
		for _, e := range sec.Entries {
			assert.NotEqual(t, 99, e.Manga.ID, "stale result leaked into %s", sec.Key)
		}
	}
}

func TestRefresh_SkipsUnchangedCategorySet(t *testing.T) {
	backend := &fakeBackend{
		sources: []models.SourceDescriptor{{ID: "1", Name: "Comick", Lang: "en"}},
		popular: map[string][]models.Manga{"1": {{ID: 3, Title: "Popular one"}}},
	}
	local := &fakeLocal{
		records: []models.Manga{libraryManga(1, "Berserk", "Action")},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.1", ReadAt: testNow.Add(-time.Hour)},
		},
	}
	a, store := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	backend.mu.Lock()
	after := backend.popularCalls
	backend.mu.Unlock()
	require.Equal(t, 1, after)

	// Same category signature: even with the popular cache dropped, no new
	// fan-out batch may start.
	store.ClearPrefix(cachestore.PopularPrefix())
	a.Refresh().Wait()

	backend.mu.Lock()
	assert.Equal(t, 1, backend.popularCalls, "unchanged signature must skip the fan-out")
	backend.mu.Unlock()

	// A retry forces the batch regardless of signature.
	a.Retry().Wait()
	backend.mu.Lock()
	assert.Equal(t, 2, backend.popularCalls)
	backend.mu.Unlock()
}

func TestRefresh_SupersededMidFlightRowsStillSettle(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})
	var startOnce sync.Once

	backend := &fakeBackend{
		sources: []models.SourceDescriptor{{ID: "1", Name: "Comick", Lang: "en"}},
		searchFn: func(sourceID, genre string) ([]models.Manga, error) {
			startOnce.Do(func() { close(started) })
			<-gate
			return []models.Manga{{ID: 7, Title: "X"}}, nil
		},
	}
	local := &fakeLocal{
		records: []models.Manga{libraryManga(1, "Berserk", "Action")},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.1", ReadAt: testNow.Add(-time.Hour)},
		},
	}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	// Batch A blocks mid-fetch; batch B supersedes it with the identical
	// category signature. B must not treat A's unsettled loading rows as
	// valid and skip the fan-out, or they would stay loading forever.
	scopeA := a.Refresh()
	<-started
	scopeB := a.Refresh()

	close(gate)
	scopeA.Wait()
	scopeB.Wait()

	snap := a.Snapshot()
	row := sectionByKey(t, snap, CategorySectionKey("Action"))
	require.NotNil(t, row)
	assert.Equal(t, StateReady, row.State, "successor batch must settle rows the superseded one left loading")
	require.Len(t, row.Entries, 1)
	assert.Equal(t, 7, row.Entries[0].Manga.ID)

	assert.NotEqual(t, StateLoading, snap.Global)
	pop := sectionByKey(t, snap, SectionPopular)
	require.NotNil(t, pop)
	assert.NotEqual(t, StateLoading, pop.State)
}

type recordingHub struct {
	mu     sync.Mutex
	events []any
}

func (r *recordingHub) BroadcastJSON(v any) {
	r.mu.Lock()
	r.events = append(r.events, v)
	r.mu.Unlock()
}

func TestBroadcast_EventsCarryBatchID(t *testing.T) {
	backend := &fakeBackend{
		sources: []models.SourceDescriptor{{ID: "1", Name: "Comick", Lang: "en"}},
	}
	local := &fakeLocal{
		records: []models.Manga{libraryManga(1, "Berserk", "Action")},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.1", ReadAt: testNow.Add(-time.Hour)},
		},
	}

	log := zap.NewNop().Sugar()
	hub := &recordingHub{}
	a := NewAssembler(cachestore.New(log), backend, local, hub, log, "en")
	a.now = func() time.Time { return testNow }
	defer a.Close()

	sc := a.Refresh()
	sc.Wait()
	require.NotEmpty(t, sc.ID)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.NotEmpty(t, hub.events)
	for _, ev := range hub.events {
		switch e := ev.(type) {
		case SectionEvent:
			assert.Equal(t, sc.ID, e.Batch)
		case GlobalEvent:
			assert.Equal(t, sc.ID, e.Batch)
		default:
			t.Fatalf("unexpected event type %T", ev)
		}
	}
}

func TestRefresh_AssignsDistinctBatchIDs(t *testing.T) {
	backend := &fakeBackend{}
	local := &fakeLocal{}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	s1 := a.Refresh()
	s1.Wait()
	s2 := a.Refresh()
	s2.Wait()

	assert.NotEmpty(t, s1.ID)
	assert.NotEmpty(t, s2.ID)
	assert.NotEqual(t, s1.ID, s2.ID)
}

func TestRecommended_ExcludesContinueReading(t *testing.T) {
	backend := &fakeBackend{}
	local := &fakeLocal{
		records: []models.Manga{
			libraryManga(1, "Berserk", "Action"),
			libraryManga(2, "Claymore", "Action"),
			libraryManga(3, "Yotsuba", "Slice of Life"), // no category overlap
			{ID: 4, Title: "Not mine", Genres: []string{"Action"}},
		},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.1", ReadAt: testNow.Add(-time.Hour)},
		},
	}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	sec := sectionByKey(t, a.Snapshot(), SectionRecommended)

	require.NotNil(t, sec)
	require.Len(t, sec.Entries, 1)
	assert.Equal(t, 2, sec.Entries[0].Manga.ID,
		"already-reading, off-category and non-library records are excluded")
}

func TestPopular_MergedAcrossCatalogsAndDeduped(t *testing.T) {
	backend := &fakeBackend{
		sources: []models.SourceDescriptor{
			{ID: "a", Name: "Comick", Lang: "en"},
			{ID: "b", Name: "Toonily", Lang: "en"},
			{ID: "c", Name: "Extra", Lang: "en"}, // beyond the top-2 cut
		},
		popular: map[string][]models.Manga{
			"a": {{ID: 1, Title: "One Piece"}, {ID: 2, Title: "Naruto"}},
			"b": {{ID: 30, Title: "one piece"}, {ID: 31, Title: "Bleach"}},
			"c": {{ID: 50, Title: "Should not appear"}},
		},
	}
	local := &fakeLocal{}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	sec := sectionByKey(t, a.Snapshot(), SectionPopular)

	require.NotNil(t, sec)
	assert.Equal(t, StateReady, sec.State)

	titles := make(map[string]bool)
	for _, e := range sec.Entries {
		titles[e.Manga.Title] = true
	}
	assert.Len(t, sec.Entries, 3, "cross-catalog duplicate titles collapse")
	assert.True(t, titles["Naruto"])
	assert.True(t, titles["Bleach"])
	assert.False(t, titles["Should not appear"], "only the top 2 catalogs are queried")
}

func TestPopular_NoCatalogsResolved(t *testing.T) {
	backend := &fakeBackend{} // no sources at all
	local := &fakeLocal{}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	snap := a.Snapshot()

	sec := sectionByKey(t, snap, SectionPopular)
	require.NotNil(t, sec)
	assert.Equal(t, StateEmpty, sec.State)
	assert.Equal(t, "no catalog sources available", sec.Message)

	assert.Equal(t, StateEmpty, snap.Global, "nothing anywhere reads as a global empty, not an error")
	assert.Equal(t, "no data available", snap.Message)
}

func TestSnapshot_SectionOrder(t *testing.T) {
	backend := &fakeBackend{
		sources: []models.SourceDescriptor{{ID: "1", Name: "Comick", Lang: "en"}},
	}
	local := &fakeLocal{
		records: []models.Manga{libraryManga(1, "Berserk", "Action", "Drama")},
		history: []models.HistoryEntry{
			{MangaID: 1, ChapterName: "Ch.1", ReadAt: testNow.Add(-time.Hour)},
		},
	}
	a, _ := newTestAssembler(backend, local)
	defer a.Close()

	a.Refresh().Wait()
	snap := a.Snapshot()

	keys := make([]string, 0, len(snap.Sections))
	for _, s := range snap.Sections {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{
		SectionContinueReading,
		SectionRecommended,
		SectionPopular,
		CategorySectionKey("Action"),
		CategorySectionKey("Drama"),
	}, keys)
}
