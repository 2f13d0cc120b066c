package tuners

import (
	"context"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// FilterQuery is the listing request as received from the presentation layer.
type FilterQuery struct {
	Key         string
	Size        string
	Raw         bool
	ImgPrompt   bool
	Niji        bool
	LikedByMe   bool
	LikedByUser []string
	Cursor      string
}

// Listing is an unpaginated, sorted search result.
type Listing struct {
	Tuners []Tuner
	Count  int
}

// Page is one cursor page of a search. Cursor is empty when no further pages exist.
type Page struct {
	Tuners []Tuner
	Cursor string
}

// ResolveFilter turns a query into a FilterSpec, loading the like-sets it
// references. likedbyme for an anonymous viewer matches nothing. Like-sets of
// several users are combined as a union.
func (s *Service) ResolveFilter(ctx context.Context, query FilterQuery, viewer Identity) (FilterSpec, error) {
	spec := FilterSpec{
		Keyword:         strings.TrimSpace(query.Key),
		Size:            strings.TrimSpace(query.Size),
		RawStyleOnly:    query.Raw,
		NijiOnly:        query.Niji,
		ImagePromptOnly: query.ImgPrompt,
	}

	userIDs := make([]string, 0, len(query.LikedByUser)+1)
	if query.LikedByMe {
		spec.LikedRecordIDs = NewIDSet()
		if viewer.Authenticated() {
			userIDs = append(userIDs, viewer.ID)
		}
	}
	for _, userID := range query.LikedByUser {
		if trimmed := strings.TrimSpace(userID); trimmed != "" {
			userIDs = append(userIDs, trimmed)
		}
	}
	if len(userIDs) > 0 && spec.LikedRecordIDs == nil {
		spec.LikedRecordIDs = NewIDSet()
	}
	for _, userID := range userIDs {
		likes, err := s.records.UserLikes(ctx, userID)
		if err != nil {
			s.logError(opResolveFilter, "user_likes_failed", err, zap.String("user_id", userID))
			return FilterSpec{}, err
		}
		for id := range likes {
			spec.LikedRecordIDs.Add(id)
		}
	}
	return spec, nil
}

// Search returns every tuner matching spec, sorted by likes descending with a
// seeded shuffle among equal like counts, together with the match count.
func (s *Service) Search(ctx context.Context, spec FilterSpec) (Listing, error) {
	matches := make([]Tuner, 0)
	for tuner, err := range s.records.All(ctx) {
		if err != nil {
			s.logError(opSearch, "scan_failed", err)
			return Listing{}, err
		}
		if Matches(tuner, spec) {
			matches = append(matches, tuner)
		}
	}
	SortByLikes(matches, s.seedFor(s.clock()))
	return Listing{Tuners: matches, Count: len(matches)}, nil
}

// SearchPage returns up to the configured page size of tuners matching spec,
// starting after cursor. The store is scanned in batches and filtered batch by
// batch until the page is full or the store is exhausted; each batch asks only
// for as many entries as the page still lacks, so the returned store cursor
// never skips an unseen tuner. Tuners appear in store order.
func (s *Service) SearchPage(ctx context.Context, spec FilterSpec, cursor string) (Page, error) {
	page := Page{Tuners: make([]Tuner, 0, s.pageSize)}
	next := cursor
	for len(page.Tuners) < s.pageSize {
		batch, storeCursor, err := s.records.Page(ctx, next, s.pageSize-len(page.Tuners))
		if err != nil {
			s.logError(opSearchPage, "scan_failed", err)
			return Page{}, err
		}
		for _, tuner := range batch {
			if Matches(tuner, spec) {
				page.Tuners = append(page.Tuners, tuner)
			}
		}
		next = storeCursor
		if next == "" {
			break
		}
	}
	page.Cursor = next
	return page, nil
}

// Count returns the number of tuners matching spec using the same full scan as Search.
func (s *Service) Count(ctx context.Context, spec FilterSpec) (int, error) {
	count := 0
	for tuner, err := range s.records.All(ctx) {
		if err != nil {
			s.logError(opCount, "scan_failed", err)
			return 0, err
		}
		if Matches(tuner, spec) {
			count++
		}
	}
	return count, nil
}

// SortByLikes orders tuners by likes descending. Equal like counts are ordered
// by a hash of seed and tuner id, so one seed always yields the same order.
func SortByLikes(tuners []Tuner, seed string) {
	ranks := make(map[string]uint64, len(tuners))
	for _, tuner := range tuners {
		ranks[tuner.ID] = xxh3.HashString(seed + "/" + tuner.ID)
	}
	sort.SliceStable(tuners, func(i, j int) bool {
		if tuners[i].Likes != tuners[j].Likes {
			return tuners[i].Likes > tuners[j].Likes
		}
		if ranks[tuners[i].ID] != ranks[tuners[j].ID] {
			return ranks[tuners[i].ID] < ranks[tuners[j].ID]
		}
		return tuners[i].ID < tuners[j].ID
	})
}
