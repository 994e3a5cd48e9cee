package ordered

import "github.com/c0deZ3R0/go-chatsync-kit/model"

// Diff describes how to turn before into after as a list of changes.
// Removes carry their index in before, inserts and updates their index in
// after, and moves are reported for surviving elements whose relative order
// changed. Applying the result to before with WithListChanges under the
// descriptor after is sorted by yields after.
func Diff[T model.Entity](before, after []T) []ListChange[T] {
	afterIDs := make(map[string]struct{}, len(after))
	for _, item := range after {
		afterIDs[item.Identity()] = struct{}{}
	}

	var changes []ListChange[T]
	beforeByID := make(map[string]T, len(before))
	survivorRank := make(map[string]int, len(before))
	rank := 0
	for i, item := range before {
		id := item.Identity()
		beforeByID[id] = item
		if _, ok := afterIDs[id]; !ok {
			changes = append(changes, Remove(item, i))
			continue
		}
		survivorRank[id] = rank
		rank++
	}

	rank = 0
	for j, item := range after {
		id := item.Identity()
		old, existed := beforeByID[id]
		if !existed {
			changes = append(changes, Insert(item, j))
			continue
		}
		from := survivorRank[id]
		switch {
		case old != item:
			changes = append(changes, Update(item, j))
		case from != rank:
			changes = append(changes, Move(item, from, rank))
		}
		rank++
	}
	return changes
}
