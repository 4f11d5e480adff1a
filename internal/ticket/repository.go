package ticket

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MerchantGroup is one merchant bucket of the categorized projection. Groups
// keep the encounter order of the canonical collection, which a plain map
// would lose.
type MerchantGroup struct {
	Merchant string   `json:"merchant"`
	Tickets  []Ticket `json:"tickets"`
}

// Repository is the single gateway to the ticket collection. It owns the
// canonical in-memory collection, persists writes to the local cache
// synchronously and to the remote store best-effort, and fans out immutable
// snapshots to watchers.
//
// All mutations run under one mutex (single-writer discipline); any number of
// readers and watchers may observe concurrently.
type Repository struct {
	cache  CacheStore
	remote RemoteStore
	logger *slog.Logger

	mu      sync.Mutex
	tickets []Ticket
	subs    map[int]chan []Ticket
	nextSub int
}

// NewRepository builds a repository seeded from the local cache. The cached
// collection is available to readers immediately, before any network round
// trip: remote data only ever improves on it via Refresh.
func NewRepository(cache CacheStore, remote RemoteStore, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		cache:   cache,
		remote:  remote,
		logger:  logger,
		tickets: cache.LoadAll(),
		subs:    make(map[int]chan []Ticket),
	}
}

// All returns a copy of the canonical collection, newest first
func (r *Repository) All() []Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.tickets)
}

// Recent returns at most limit tickets from the head of the canonical order
func (r *Repository) Recent(limit int) []Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return takeRecent(r.tickets, limit)
}

// ByMerchant groups the canonical collection by merchant, in encounter order
func (r *Repository) ByMerchant() []MerchantGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return groupByMerchant(r.tickets)
}

// Search filters the canonical collection. An empty query returns everything;
// otherwise a ticket matches when its merchant or any line item description
// contains the query, case-insensitively.
func (r *Repository) Search(query string) []Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filterByQuery(r.tickets, query)
}

// Watch returns a stream of canonical snapshots. The current snapshot is
// delivered immediately, then a new one after every applied write, in write
// order. Slow consumers only ever see the latest value. The channel closes
// when ctx is canceled and never completes on its own.
func (r *Repository) Watch(ctx context.Context) <-chan []Ticket {
	r.mu.Lock()
	ch := make(chan []Ticket, 1)
	ch <- snapshot(r.tickets)
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
		close(ch)
	}()

	return ch
}

// WatchRecent streams the recent-N projection of the canonical collection
func (r *Repository) WatchRecent(ctx context.Context, limit int) <-chan []Ticket {
	return derive(ctx, r, func(tickets []Ticket) []Ticket {
		return takeRecent(tickets, limit)
	})
}

// WatchByMerchant streams the categorized projection of the canonical collection
func (r *Repository) WatchByMerchant(ctx context.Context) <-chan []MerchantGroup {
	return derive(ctx, r, groupByMerchant)
}

// WatchSearch streams the filtered projection for a fixed query
func (r *Repository) WatchSearch(ctx context.Context, query string) <-chan []Ticket {
	return derive(ctx, r, func(tickets []Ticket) []Ticket {
		return filterByQuery(tickets, query)
	})
}

// Add writes a ticket to the canonical collection and both stores. A ticket
// with the same image URI (or ID) replaces the existing entry in place
// instead of prepending a duplicate. The cache write is synchronous and
// durable; the remote write is detached and its failure only logged.
func (r *Repository) Add(t Ticket) {
	t.RecomputeTotal()

	r.mu.Lock()
	replaced := false
	for i := range r.tickets {
		if r.tickets[i].ID == t.ID || (t.ImageURI != "" && r.tickets[i].ImageURI == t.ImageURI) {
			r.tickets[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		r.tickets = append([]Ticket{t}, r.tickets...)
	}
	if err := r.cache.Upsert(t); err != nil {
		r.logger.Error("Failed to cache ticket", "id", t.ID, "error", err)
	}
	r.publishLocked()
	r.mu.Unlock()

	r.detachedRemote("save", t.ID, func(ctx context.Context) error {
		return r.remote.SaveTicket(ctx, t)
	})
}

// Update replaces the canonical entry with the same ID. Unknown IDs are
// ignored.
func (r *Repository) Update(t Ticket) {
	t.RecomputeTotal()

	r.mu.Lock()
	found := false
	for i := range r.tickets {
		if r.tickets[i].ID == t.ID {
			r.tickets[i] = t
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return
	}
	if err := r.cache.Upsert(t); err != nil {
		r.logger.Error("Failed to cache ticket", "id", t.ID, "error", err)
	}
	r.publishLocked()
	r.mu.Unlock()

	r.detachedRemote("update", t.ID, func(ctx context.Context) error {
		return r.remote.UpdateTicket(ctx, t)
	})
}

// Delete removes the ticket from the canonical collection, the cache and the
// remote store. Local removal proceeds even when the remote delete fails;
// remote convergence is eventual.
func (r *Repository) Delete(id string) {
	r.mu.Lock()
	kept := make([]Ticket, 0, len(r.tickets))
	found := false
	for _, t := range r.tickets {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		r.mu.Unlock()
		return
	}
	r.tickets = kept
	if err := r.cache.Delete(id); err != nil {
		r.logger.Error("Failed to delete cached ticket", "id", id, "error", err)
	}
	r.publishLocked()
	r.mu.Unlock()

	r.detachedRemote("delete", id, func(ctx context.Context) error {
		return r.remote.DeleteTicket(ctx, id)
	})
}

// Refresh fetches the remote collection and reconciles it with the canonical
// one: union deduplicated by ID with the remote copy winning on conflict,
// newest first. The merged set is published and written back to the cache so
// remote knowledge survives offline.
//
// When the fetch fails the canonical collection is left untouched and the
// error returned; callers may surface it as a notice or ignore it.
func (r *Repository) Refresh(ctx context.Context) error {
	if r.remote == nil {
		return nil
	}

	remoteSet, err := r.remote.GetAllTickets(ctx)
	if err != nil {
		r.logger.Warn("Remote fetch failed, keeping local tickets", "error", err)
		return err
	}

	r.mu.Lock()
	r.tickets = mergeSnapshots(r.tickets, remoteSet)
	if err := r.cache.SaveAll(snapshot(r.tickets)); err != nil {
		r.logger.Error("Failed to write merged tickets to cache", "error", err)
	}
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// publishLocked fans the current snapshot out to all watchers. Callers must
// hold r.mu. Each watcher channel holds only the latest value: a stale
// pending snapshot is dropped before the fresh one is queued.
func (r *Repository) publishLocked() {
	snap := snapshot(r.tickets)
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// detachedRemote runs one best-effort remote operation in the background
func (r *Repository) detachedRemote(op, id string, fn func(context.Context) error) {
	if r.remote == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.logger.Warn("Remote ticket operation failed", "op", op, "id", id, "error", err)
		}
	}()
}

// derive adapts a watch stream through a pure projection
func derive[T any](ctx context.Context, r *Repository, project func([]Ticket) T) <-chan T {
	src := r.Watch(ctx)
	out := make(chan T, 1)
	go func() {
		defer close(out)
		for tickets := range src {
			value := project(tickets)
			select {
			case <-out:
			default:
			}
			select {
			case out <- value:
			default:
			}
		}
	}()
	return out
}

func snapshot(tickets []Ticket) []Ticket {
	out := make([]Ticket, len(tickets))
	copy(out, tickets)
	return out
}

func takeRecent(tickets []Ticket, limit int) []Ticket {
	if limit < 0 {
		limit = 0
	}
	if limit > len(tickets) {
		limit = len(tickets)
	}
	return snapshot(tickets[:limit])
}

func groupByMerchant(tickets []Ticket) []MerchantGroup {
	index := make(map[string]int)
	groups := make([]MerchantGroup, 0)
	for _, t := range tickets {
		i, ok := index[t.Merchant]
		if !ok {
			i = len(groups)
			index[t.Merchant] = i
			groups = append(groups, MerchantGroup{Merchant: t.Merchant})
		}
		groups[i].Tickets = append(groups[i].Tickets, t)
	}
	return groups
}

func filterByQuery(tickets []Ticket, query string) []Ticket {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return snapshot(tickets)
	}
	matched := make([]Ticket, 0, len(tickets))
	for _, t := range tickets {
		if ticketMatches(t, query) {
			matched = append(matched, t)
		}
	}
	return matched
}

func ticketMatches(t Ticket, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(t.Merchant), lowerQuery) {
		return true
	}
	for _, item := range t.LineItems {
		if strings.Contains(strings.ToLower(item.Description), lowerQuery) {
			return true
		}
	}
	return false
}
