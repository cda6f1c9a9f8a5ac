package dashboard

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ucaep.org/internal/content"
)

// OtherBucket collects counts for values outside the known enumerations.
const OtherBucket = "other"

var knownBusinessTypes = map[string]bool{
	"agriculture": true,
	"livestock":   true,
	"fisheries":   true,
	"mixed":       true,
}

var knownRegions = map[string]bool{
	"ngazidja": true,
	"ndzuwani": true,
	"mwali":    true,
}

// Lister is the slice of the content service the aggregator needs.
type Lister interface {
	List(ctx context.Context, kind content.Kind, opts content.ListOptions) ([]content.Record, error)
}

// ActivityItem is one entry of the recent-activity feed.
type ActivityItem struct {
	Kind      content.Kind `json:"kind"`
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Status    string       `json:"status,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Summary is the aggregated dashboard payload.
type Summary struct {
	Totals            map[content.Kind]int `json:"totals"`
	ApprovedProducers int                  `json:"approvedProducers"`
	PendingProducers  int                  `json:"pendingProducers"`
	ByBusinessType    map[string]int       `json:"byBusinessType"`
	ByRegion          map[string]int       `json:"byRegion"`
	RecentActivity    []ActivityItem       `json:"recentActivity"`
	GeneratedAt       time.Time            `json:"generatedAt"`
}

// Aggregator assembles the dashboard summary from per-kind collections.
type Aggregator struct {
	lister Lister
}

func NewAggregator(lister Lister) *Aggregator {
	return &Aggregator{lister: lister}
}

// Summarize fetches every kind in parallel and folds the results. One failed
// fetch fails the whole summary; a partial dashboard would be misleading.
func (a *Aggregator) Summarize(ctx context.Context) (Summary, error) {
	kinds := content.Kinds()
	collections := make([][]content.Record, len(kinds))
	errs := make([]error, len(kinds))

	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind content.Kind) {
			defer wg.Done()
			collections[i], errs[i] = a.lister.List(ctx, kind, content.ListOptions{})
		}(i, kind)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return Summary{}, err
		}
	}

	summary := Summary{
		Totals:         make(map[content.Kind]int, len(kinds)),
		ByBusinessType: make(map[string]int),
		ByRegion:       make(map[string]int),
		GeneratedAt:    time.Now().UTC(),
	}

	var producers, messages []content.Record
	for i, kind := range kinds {
		summary.Totals[kind] = len(collections[i])
		switch kind {
		case content.KindProducer:
			producers = collections[i]
		case content.KindMessage:
			messages = collections[i]
		}
	}

	for _, p := range producers {
		switch p.Status() {
		case "approved":
			summary.ApprovedProducers++
		case "pending":
			summary.PendingProducers++
		}
		summary.ByBusinessType[bucket(p.Fields, "businessType", knownBusinessTypes)]++
		summary.ByRegion[bucket(p.Fields, "region", knownRegions)]++
	}

	summary.RecentActivity = RecentActivity(producers, messages)
	return summary, nil
}

// bucket normalizes an enum field, folding unknown or missing values into the
// other bucket rather than inventing categories.
func bucket(fields content.Fields, field string, known map[string]bool) string {
	v, _ := fields[field].(string)
	v = strings.TrimSpace(strings.ToLower(v))
	if known[v] {
		return v
	}
	return OtherBucket
}

// RecentActivity builds the merged feed: the three newest producers and the
// two newest messages, merged newest-first and capped at five entries.
func RecentActivity(producers, messages []content.Record) []ActivityItem {
	items := make([]ActivityItem, 0, 5)
	items = append(items, newestItems(producers, 3)...)
	items = append(items, newestItems(messages, 2)...)

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > 5 {
		items = items[:5]
	}
	return items
}

func newestItems(recs []content.Record, n int) []ActivityItem {
	sorted := make([]content.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	items := make([]ActivityItem, 0, len(sorted))
	for _, rec := range sorted {
		items = append(items, ActivityItem{
			Kind:      rec.Kind,
			ID:        rec.ID,
			Title:     titleOf(rec),
			Status:    rec.Status(),
			CreatedAt: rec.CreatedAt,
		})
	}
	return items
}

func titleOf(rec content.Record) string {
	for _, field := range []string{"businessName", "title", "subject", "name"} {
		if v, ok := rec.Fields[field].(string); ok && v != "" {
			return v
		}
	}
	return rec.ID
}
