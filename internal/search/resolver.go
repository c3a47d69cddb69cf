// Package search resolves free-text targets to candidate users and
// conversations, via the platform's asynchronous correlated search protocol or
// a local fuzzy match over an already-fetched pool.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/concordhq/concord/internal/collab"
	"github.com/concordhq/concord/internal/directory"
)

// Resolver issues remote directory searches and hydrates the results.
type Resolver struct {
	timeout   time.Duration
	threshold float64
	cache     *directory.Cache
	log       *slog.Logger
}

// NewResolver creates a resolver. cache may be nil; when set, hydrated users
// are written through and the snapshot serves as a local fallback pool when the
// remote search fails or comes back empty. timeout bounds the wait for a
// terminal search status, which the platform does not guarantee to send;
// threshold is the fuzzy inclusion bound for local matches.
func NewResolver(log *slog.Logger, cache *directory.Cache, timeout time.Duration, threshold float64) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.55
	}
	return &Resolver{
		timeout:   timeout,
		threshold: threshold,
		cache:     cache,
		log:       log.With(slog.String("service", "search")),
	}
}

// SearchUsers resolves query against the remote user directory. An empty query
// yields an empty match set without a remote call. When the remote search
// fails, times out, or yields nothing, previously seen users from the
// directory snapshot are matched locally instead.
func (r *Resolver) SearchUsers(ctx context.Context, client collab.Client, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ids, err := r.await(ctx, client,
		func(ctx context.Context) (string, error) { return client.StartUserSearch(ctx, query) },
		func(res *collab.SearchResult) []string { return res.UserIDs },
	)
	if err != nil {
		if local := r.snapshotUsers(query); len(local) > 0 {
			r.log.Warn("remote user search failed, serving directory snapshot",
				slog.String("query", query), slog.Any("error", err))
			return local, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return r.snapshotUsers(query), nil
	}

	users, err := client.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate users: %w", err)
	}
	if r.cache != nil {
		r.cache.Put(users...)
	}

	candidates := make([]Candidate, 0, len(users))
	for _, u := range users {
		candidates = append(candidates, UserCandidate(u))
	}
	return candidates, nil
}

// SearchConversations resolves query against conversation topics.
func (r *Resolver) SearchConversations(ctx context.Context, client collab.Client, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ids, err := r.await(ctx, client,
		func(ctx context.Context) (string, error) { return client.StartConversationSearch(ctx, query) },
		func(res *collab.SearchResult) []string { return res.ConvIDs },
	)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	convs, err := client.GetConversationsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate conversations: %w", err)
	}

	candidates := make([]Candidate, 0, len(convs))
	for _, c := range convs {
		candidates = append(candidates, ConversationCandidate(c))
	}
	return candidates, nil
}

// snapshotUsers fuzzy-matches query against the cached directory snapshot.
func (r *Resolver) snapshotUsers(query string) []Candidate {
	if r.cache == nil {
		return nil
	}
	users := r.cache.Snapshot()
	if len(users) == 0 {
		return nil
	}
	pool := make([]Candidate, 0, len(users))
	for _, u := range users {
		pool = append(pool, UserCandidate(u))
	}
	return ByName(query, pool, r.threshold)
}

// await runs one correlated search: subscribe, start, accumulate ids from
// partial results matching the correlation id, return on a terminal status.
// The subscription is released on every path.
func (r *Resolver) await(ctx context.Context, client collab.Client,
	start func(context.Context) (string, error),
	extract func(*collab.SearchResult) []string,
) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Subscribe before starting so no event can slip past.
	events, unsubscribe := client.SubscribeSearch()
	defer unsubscribe()

	searchID, err := start(ctx)
	if err != nil {
		return nil, fmt.Errorf("start search: %w", err)
	}

	var (
		ids  []string
		seen = map[string]struct{}{}
	)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("search %s: %w", searchID, ctx.Err())
		case evt, ok := <-events:
			if !ok {
				return nil, collab.ErrClosed
			}
			switch {
			case evt.Result != nil:
				if evt.Result.SearchID != searchID {
					continue // cross-talk from a concurrent search
				}
				for _, id := range extract(evt.Result) {
					if _, dup := seen[id]; dup {
						continue
					}
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			case evt.Status != nil:
				if evt.Status.SearchID != searchID || !evt.Status.Terminal() {
					continue
				}
				return ids, nil
			}
		}
	}
}
