package ordered

import (
	"slices"

	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

type upsert[T any] struct {
	item    T
	present bool
}

// WithListChanges applies changes to current and returns the resulting
// collection sorted by desc.
//
// Changes are interpreted by identity: inserts, updates and moves carry the
// item's new value, removes drop it. When the same identity occurs several
// times in one batch the last change wins. Removing an absent identity is a
// no-op and updating an absent identity inserts it. Index fields are ignored,
// so the outcome does not depend on the producer's frame of reference.
//
// Runs in O(n + k log k) for n existing and k changed elements.
func WithListChanges[T model.Entity](current []T, changes []ListChange[T], desc SortDescriptor[T]) []T {
	asc, reversed := desc.canonical()
	base := normalize(current, asc, reversed)
	if len(changes) == 0 {
		return present(base, reversed)
	}

	touched := make(map[string]upsert[T], len(changes))
	order := make([]string, 0, len(changes))
	for _, change := range changes {
		id := change.Item.Identity()
		if _, seen := touched[id]; !seen {
			order = append(order, id)
		}
		switch change.Kind {
		case ChangeRemove:
			touched[id] = upsert[T]{}
		default:
			touched[id] = upsert[T]{item: change.Item, present: true}
		}
	}

	kept := make([]T, 0, len(base))
	for _, item := range base {
		if _, ok := touched[item.Identity()]; !ok {
			kept = append(kept, item)
		}
	}

	incoming := make([]T, 0, len(order))
	for _, id := range order {
		if u := touched[id]; u.present {
			incoming = append(incoming, u.item)
		}
	}
	slices.SortFunc(incoming, asc.Compare)

	return present(mergeSorted(kept, incoming, asc.Compare), reversed)
}

type paginationConfig[T any] struct {
	keep func(T) bool
}

// PaginationOption customizes WithInsertingPaginated.
type PaginationOption[T any] func(*paginationConfig[T])

// ResetToLocalOnly discards every existing element not satisfying isLocal
// before the batch is merged. It is used when a resync replaces the cached
// window with a fresh server page while keeping locally created items that
// the server does not know about.
func ResetToLocalOnly[T any](isLocal func(T) bool) PaginationOption[T] {
	return func(c *paginationConfig[T]) {
		c.keep = isLocal
	}
}

// WithInsertingPaginated merges a page fetched from the server into current.
// Elements of batch replace existing elements with the same identity, all
// other existing elements are preserved, and the result is sorted by desc.
// The batch may arrive in any order and may contain duplicates, in which case
// the last occurrence wins.
//
// Runs in O(n + k log k) for n existing and k batch elements.
func WithInsertingPaginated[T model.Entity](current, batch []T, desc SortDescriptor[T], opts ...PaginationOption[T]) []T {
	var config paginationConfig[T]
	for _, opt := range opts {
		opt(&config)
	}

	asc, reversed := desc.canonical()
	base := normalize(current, asc, reversed)
	if len(batch) == 0 && config.keep == nil {
		return present(base, reversed)
	}

	page := dedupeLastWins(batch)
	slices.SortFunc(page, asc.Compare)

	ids := make(map[string]struct{}, len(page))
	for _, item := range page {
		ids[item.Identity()] = struct{}{}
	}

	kept := make([]T, 0, len(base))
	for _, item := range base {
		if _, replaced := ids[item.Identity()]; replaced {
			continue
		}
		if config.keep != nil && !config.keep(item) {
			continue
		}
		kept = append(kept, item)
	}

	return present(mergeSorted(kept, page, asc.Compare), reversed)
}

// normalize returns a private ascending copy of items with duplicate
// identities removed. Already sorted input costs O(n).
func normalize[T model.Entity](items []T, asc SortDescriptor[T], reversed bool) []T {
	out := slices.Clone(items)
	if reversed {
		slices.Reverse(out)
	}
	if !slices.IsSortedFunc(out, asc.Compare) {
		slices.SortStableFunc(out, asc.Compare)
	}
	if len(out) < 2 {
		return out
	}
	seen := make(map[string]struct{}, len(out))
	unique := out[:0]
	for _, item := range out {
		id := item.Identity()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, item)
	}
	return unique
}

func present[T any](items []T, reversed bool) []T {
	if reversed {
		slices.Reverse(items)
	}
	if items == nil {
		return []T{}
	}
	return items
}

func dedupeLastWins[T model.Entity](items []T) []T {
	last := make(map[string]int, len(items))
	for i, item := range items {
		last[item.Identity()] = i
	}
	out := make([]T, 0, len(last))
	for i, item := range items {
		if last[item.Identity()] == i {
			out = append(out, item)
		}
	}
	return out
}

// mergeSorted merges two ascending slices with disjoint identities.
func mergeSorted[T any](a, b []T, compare func(x, y T) int) []T {
	out := make([]T, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if compare(a[i], b[j]) <= 0 {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
