package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mangafeed/internal/cachestore"
	"mangafeed/internal/catalog"
	"mangafeed/internal/frecency"
	"mangafeed/pkg/metrics"
	"mangafeed/pkg/models"
)

// Broadcaster pushes events to connected display clients. push.Hub is the
// production implementation.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Backend is the remote side of the pipeline: the catalog server the
// engine fans out to. catalog.Client is the production implementation.
type Backend interface {
	ListSources(ctx context.Context) ([]models.SourceDescriptor, error)
	Popular(ctx context.Context, sourceID string, page int) ([]models.Manga, error)
	Search(ctx context.Context, sourceID, genre string, page int) ([]models.Manga, error)
}

// LocalStore is the local side: records and reading history owned by the
// surrounding application. library.Repo is the production implementation.
type LocalStore interface {
	Records(ctx context.Context) ([]models.Manga, error)
	History(ctx context.Context) ([]models.HistoryEntry, error)
}

// Assembler drives the whole feed pipeline: foundational loads through
// the cache store, frecency ranking, concurrent catalog fan-out, and the
// per-section state machine. It is safe for concurrent use; every
// publication goes through the assembler mutex with a scope-liveness
// check, so a superseded batch can never mutate current state.
type Assembler struct {
	store   *cachestore.Store
	backend Backend
	local   LocalStore
	hub     Broadcaster // optional
	log     *zap.SugaredLogger
	lang    string
	now     func() time.Time

	root       context.Context
	cancelRoot context.CancelFunc

	mu            sync.Mutex
	scope         *Scope
	attempt       int
	lastSignature string
	global        State
	globalMsg     string
	categories    []string
	sections      map[string]*Section
	catOrder      []string
}

func NewAssembler(
	store *cachestore.Store,
	backend Backend,
	local LocalStore,
	hub Broadcaster,
	log *zap.SugaredLogger,
	lang string,
) *Assembler {
	root, cancel := context.WithCancel(context.Background())
	return &Assembler{
		store:      store,
		backend:    backend,
		local:      local,
		hub:        hub,
		log:        log,
		lang:       lang,
		now:        time.Now,
		root:       root,
		cancelRoot: cancel,
		global:     StateLoading,
		sections:   make(map[string]*Section),
	}
}

// Refresh starts a new pipeline run. The previous run's scope is
// cancelled first, so at most one batch is ever live. Returns the new
// scope; callers that need the batch to settle can Wait on it.
func (a *Assembler) Refresh() *Scope {
	return a.refresh(false)
}

// Retry is the single externally invokable recovery action: it clears
// the foundational cache entries and re-runs the whole pipeline with an
// incremented attempt counter.
func (a *Assembler) Retry() *Scope {
	a.store.Clear(cachestore.KeyLibrary)
	a.store.Clear(cachestore.KeySources)
	a.store.ClearPrefix(cachestore.PopularPrefix())

	a.mu.Lock()
	a.attempt++
	a.lastSignature = ""
	a.mu.Unlock()

	return a.refresh(true)
}

// Close cancels the current scope and the assembler root.
func (a *Assembler) Close() {
	a.mu.Lock()
	if a.scope != nil {
		a.scope.Cancel()
	}
	a.mu.Unlock()
	a.cancelRoot()
}

// Attempt returns the current retry attempt counter.
func (a *Assembler) Attempt() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempt
}

// Snapshot returns the ordered, copied state of every section plus the
// global feed state.
func (a *Assembler) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Global:     a.global,
		Message:    a.globalMsg,
		Attempt:    a.attempt,
		Categories: append([]string(nil), a.categories...),
	}

	for _, key := range a.sectionOrder() {
		if sec, ok := a.sections[key]; ok {
			snap.Sections = append(snap.Sections, sec.clone())
		}
	}
	return snap
}

func (a *Assembler) sectionOrder() []string {
	order := []string{SectionContinueReading, SectionRecommended, SectionPopular}
	for _, c := range a.catOrder {
		order = append(order, CategorySectionKey(c))
	}
	return order
}

func (a *Assembler) refresh(force bool) *Scope {
	a.mu.Lock()
	sc := newScope(a.root)
	if a.scope != nil {
		a.scope.Cancel()
		a.log.Debugw("batch superseded", "old", a.scope.ID, "new", sc.ID)
	}
	a.scope = sc
	a.global = StateLoading
	a.globalMsg = ""
	a.mu.Unlock()

	go a.run(sc, force)
	return sc
}

// run executes one pipeline pass bound to sc.
func (a *Assembler) run(sc *Scope, force bool) {
	defer close(sc.settled)

	records, history, sources, err := a.loadFoundation(sc)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		a.log.Errorw("foundational load failed", "err", err)
		a.setGlobalError(sc, "could not reach backend")
		return
	}
	if !a.aliveCurrent(sc) {
		return
	}

	categories := frecency.Rank(history, records, a.now())

	a.publishContinueReading(sc, history, records)
	excluded := a.continueReadingIDs(history, records)
	a.publishRecommended(sc, records, categories, excluded)

	signature := strings.Join(categories, "|")
	a.mu.Lock()
	// A row still in loading belongs to a batch that was superseded
	// mid-flight and will never settle it; the signature alone is not
	// enough to skip, someone has to finish those rows.
	skip := !force && signature == a.lastSignature && len(a.sections) > 0 &&
		!a.streamStillLoadingLocked()
	a.lastSignature = signature
	a.categories = append([]string(nil), categories...)
	a.catOrder = append([]string(nil), categories...)
	a.mu.Unlock()

	if skip {
		// Same category set as the previous batch: the streamed rows are
		// still valid, no redundant fan-out.
		a.recomputeGlobal(sc)
		return
	}

	a.fanOut(sc, categories, catalog.ResolvePreferred(sources, a.lang))
}

// loadFoundation runs the two foundational loads concurrently: the local
// record set (cache key "library") and the catalog list (cache key
// "sources"). History is read directly from the local store on every
// pass — it changes with each reading session and is cheap.
func (a *Assembler) loadFoundation(sc *Scope) ([]models.Manga, []models.HistoryEntry, []models.SourceDescriptor, error) {
	var (
		wg      sync.WaitGroup
		records []models.Manga
		history []models.HistoryEntry
		sources []models.SourceDescriptor
		recErr  error
		srcErr  error
	)

	// Computations run on the assembler root, not the scope: a cached
	// fetch is shared by whichever batch is current when it lands, and
	// cancelling a scope only suppresses publication (spec'd best-effort
	// transport abort happens at shutdown, when the root is cancelled).
	wg.Add(2)
	go func() {
		defer wg.Done()
		v, err := a.store.Get(a.root, cachestore.KeyLibrary, func(ctx context.Context) (any, error) {
			return a.local.Records(ctx)
		})
		if err != nil {
			recErr = err
			return
		}
		records, _ = v.([]models.Manga)
		history, recErr = a.local.History(sc.Context())
	}()
	go func() {
		defer wg.Done()
		v, err := a.store.Get(a.root, cachestore.KeySources, func(ctx context.Context) (any, error) {
			return a.backend.ListSources(ctx)
		})
		if err != nil {
			metrics.FetchOps.WithLabelValues("sources", fetchOutcome(err)).Inc()
			srcErr = err
			return
		}
		metrics.FetchOps.WithLabelValues("sources", "ok").Inc()
		sources, _ = v.([]models.SourceDescriptor)
	}()
	wg.Wait()

	if recErr != nil {
		return nil, nil, nil, recErr
	}
	if srcErr != nil {
		return nil, nil, nil, srcErr
	}
	return records, history, sources, nil
}

// fanOut issues the popular and per-category fetches concurrently and
// streams each result into its section as it lands.
func (a *Assembler) fanOut(sc *Scope, categories []string, resolved []models.SourceDescriptor) {
	top := resolved
	if len(top) > popularSources {
		top = top[:popularSources]
	}

	a.resetStreamSections(sc, categories, len(top))

	if len(top) == 0 {
		// Nothing to fan out to: every streamed row settles immediately.
		a.mu.Lock()
		if a.isCurrent(sc) {
			sec := a.sections[SectionPopular]
			sec.State = StateEmpty
			sec.Message = "no catalog sources available"
			a.broadcastLocked(sec)

			for _, c := range categories {
				row := a.sections[CategorySectionKey(c)]
				if row == nil {
					continue
				}
				row.State = StateEmpty
				row.Message = "nothing found"
				a.broadcastLocked(row)
			}
		}
		a.mu.Unlock()
		a.recomputeGlobal(sc)
		return
	}

	var wg sync.WaitGroup
	for _, src := range top {
		wg.Add(1)
		go func(src models.SourceDescriptor) {
			defer wg.Done()
			v, err := a.store.Get(a.root, cachestore.PopularKey(src.ID), func(ctx context.Context) (any, error) {
				return a.backend.Popular(ctx, src.ID, 1)
			})
			items, _ := v.([]models.Manga)
			a.publishStream(sc, SectionPopular, "popular", items, err)
		}(src)
	}

	for _, cat := range categories {
		for _, src := range top {
			wg.Add(1)
			go func(cat string, src models.SourceDescriptor) {
				defer wg.Done()
				key := cachestore.CategoryKey(cat, src.ID)
				v, err := a.store.Get(a.root, key, func(ctx context.Context) (any, error) {
					return a.backend.Search(ctx, src.ID, cat, 1)
				})
				items, _ := v.([]models.Manga)
				a.publishStream(sc, CategorySectionKey(cat), "category", items, err)
			}(cat, src)
		}
	}

	wg.Wait()
	a.recomputeGlobal(sc)
}

// resetStreamSections rebuilds the popular and category rows in loading
// state for a fresh fan-out batch.
func (a *Assembler) resetStreamSections(sc *Scope, categories []string, fetchesPerRow int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isCurrent(sc) {
		return
	}

	// Drop rows from categories that fell out of the ranking.
	valid := map[string]struct{}{
		SectionContinueReading: {},
		SectionRecommended:     {},
		SectionPopular:         {},
	}
	for _, c := range categories {
		valid[CategorySectionKey(c)] = struct{}{}
	}
	for key := range a.sections {
		if _, ok := valid[key]; !ok {
			delete(a.sections, key)
		}
	}

	a.sections[SectionPopular] = &Section{
		Key:     SectionPopular,
		Title:   "Popular",
		State:   StateLoading,
		pending: fetchesPerRow,
	}
	a.broadcastLocked(a.sections[SectionPopular])

	for _, c := range categories {
		key := CategorySectionKey(c)
		a.sections[key] = &Section{
			Key:     key,
			Title:   c,
			State:   StateLoading,
			pending: fetchesPerRow,
		}
		a.broadcastLocked(a.sections[key])
	}
}

// publishStream merges one fetch outcome into its section. The liveness
// check happens here, at mutation time: results of a superseded scope
// are discarded no matter when they arrive.
func (a *Assembler) publishStream(sc *Scope, sectionKey, kind string, items []models.Manga, err error) {
	a.mu.Lock()

	if !a.isCurrent(sc) {
		a.mu.Unlock()
		if err == nil {
			metrics.FetchOps.WithLabelValues(kind, "cancelled").Inc()
		}
		return
	}

	sec, ok := a.sections[sectionKey]
	if !ok {
		a.mu.Unlock()
		return
	}
	sec.pending--

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		metrics.FetchOps.WithLabelValues(kind, "cancelled").Inc()
	case err != nil:
		// Partial-source failure: logged, excluded, never a row error.
		metrics.FetchOps.WithLabelValues(kind, "error").Inc()
		a.log.Warnw("fetch failed", "section", sectionKey, "err", err)
	default:
		metrics.FetchOps.WithLabelValues(kind, "ok").Inc()
		merged := append(sc.results[sectionKey], items...)
		merged = DedupeByTitle(DedupeByID(merged))
		sc.results[sectionKey] = merged

		entries := make([]Entry, 0, rowCap)
		for _, m := range merged {
			if len(entries) == rowCap {
				break
			}
			entries = append(entries, Entry{Manga: m})
		}
		sec.Entries = entries
		sec.MoreAvailable = len(merged) > rowCap
		if len(entries) > 0 {
			sec.State = StateReady
		}
		metrics.SectionState.WithLabelValues(sectionKey).Set(float64(len(entries)))
	}

	if sec.pending <= 0 && len(sec.Entries) == 0 && sec.State == StateLoading {
		sec.State = StateEmpty
		sec.Message = "nothing found"
	}

	a.broadcastLocked(sec)
	a.mu.Unlock()

	a.recomputeGlobal(sc)
}

func (a *Assembler) publishContinueReading(sc *Scope, history []models.HistoryEntry, records []models.Manga) {
	byID := make(map[int]models.Manga, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	seen := make(map[int]struct{})
	entries := make([]Entry, 0, maxContinueReading)
	for _, h := range history {
		if len(entries) == maxContinueReading {
			break
		}
		if _, ok := seen[h.MangaID]; ok {
			continue
		}
		seen[h.MangaID] = struct{}{}

		rec, ok := byID[h.MangaID]
		if !ok {
			continue
		}

		progress := float64(h.PageNumber) / progressDenominator
		if progress > 1 {
			progress = 1
		}
		if progress < 0 {
			progress = 0
		}
		entries = append(entries, Entry{
			Manga:    rec,
			Subtitle: h.ChapterName,
			Progress: progress,
		})
	}

	a.setLocalSection(sc, SectionContinueReading, "Continue Reading", entries)
}

func (a *Assembler) continueReadingIDs(history []models.HistoryEntry, records []models.Manga) map[int]struct{} {
	byID := make(map[int]struct{}, len(records))
	for _, r := range records {
		byID[r.ID] = struct{}{}
	}

	out := make(map[int]struct{})
	for _, h := range history {
		if len(out) == maxContinueReading {
			break
		}
		if _, known := byID[h.MangaID]; known {
			out[h.MangaID] = struct{}{}
		}
	}
	return out
}

func (a *Assembler) publishRecommended(sc *Scope, records []models.Manga, categories []string, excluded map[int]struct{}) {
	entries := make([]Entry, 0, maxRecommended)
	for _, r := range records {
		if len(entries) == maxRecommended {
			break
		}
		if !r.InLibrary {
			continue
		}
		if _, skip := excluded[r.ID]; skip {
			continue
		}
		if !inAnyCategory(r, categories) {
			continue
		}
		entries = append(entries, Entry{Manga: r})
	}

	a.setLocalSection(sc, SectionRecommended, "Recommended", entries)
}

func (a *Assembler) setLocalSection(sc *Scope, key, title string, entries []Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isCurrent(sc) {
		return
	}

	sec := &Section{Key: key, Title: title, Entries: entries, State: StateReady}
	if len(entries) == 0 {
		sec.State = StateEmpty
	}
	a.sections[key] = sec
	metrics.SectionState.WithLabelValues(key).Set(float64(len(entries)))
	a.broadcastLocked(sec)
}

func (a *Assembler) setGlobalError(sc *Scope, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isCurrent(sc) {
		return
	}
	a.global = StateError
	a.globalMsg = msg
	if a.hub != nil {
		a.hub.BroadcastJSON(GlobalEvent{
			Type:    "feed.state",
			Batch:   sc.ID,
			State:   a.global,
			Message: msg,
			Attempt: a.attempt,
			At:      a.now(),
		})
	}
}

// recomputeGlobal derives the feed-wide state from the sections: ready
// if anything is showing, loading while anything is still in flight,
// empty only when every section settled with nothing. The error state is
// reserved for foundational failures and never set here.
func (a *Assembler) recomputeGlobal(sc *Scope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isCurrent(sc) || a.global == StateError {
		return
	}

	anyReady := false
	anyLoading := false
	for _, sec := range a.sections {
		switch sec.State {
		case StateReady:
			anyReady = true
		case StateLoading:
			anyLoading = true
		}
	}

	prev := a.global
	switch {
	case anyReady:
		a.global = StateReady
	case anyLoading:
		a.global = StateLoading
	default:
		a.global = StateEmpty
		a.globalMsg = "no data available"
	}

	if a.global != prev && a.hub != nil {
		a.hub.BroadcastJSON(GlobalEvent{
			Type:    "feed.state",
			Batch:   sc.ID,
			State:   a.global,
			Message: a.globalMsg,
			Attempt: a.attempt,
			At:      a.now(),
		})
	}
}

// streamStillLoadingLocked reports whether any published row never left
// the loading state. Must be called with a.mu held.
func (a *Assembler) streamStillLoadingLocked() bool {
	for _, sec := range a.sections {
		if sec.State == StateLoading {
			return true
		}
	}
	return false
}

// isCurrent must be called with a.mu held.
func (a *Assembler) isCurrent(sc *Scope) bool {
	return sc == a.scope && sc.Alive()
}

func (a *Assembler) aliveCurrent(sc *Scope) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isCurrent(sc)
}

// broadcastLocked must be called with a.mu held. Every caller has already
// passed the liveness check, so a.scope is the batch the change belongs to.
func (a *Assembler) broadcastLocked(sec *Section) {
	if a.hub == nil {
		return
	}
	ev := SectionEvent{
		Type:    "section.update",
		Attempt: a.attempt,
		Section: sec.clone(),
		At:      a.now(),
	}
	if a.scope != nil {
		ev.Batch = a.scope.ID
	}
	a.hub.BroadcastJSON(ev)
}

func inAnyCategory(m models.Manga, categories []string) bool {
	for _, c := range categories {
		if m.HasGenre(c) {
			return true
		}
	}
	return false
}

func fetchOutcome(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "error"
}
