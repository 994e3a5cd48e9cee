// Package ordered implements the merge engine that keeps locally cached,
// sorted collections consistent as list changes and paginated batches arrive.
//
// All functions in this package are pure: they never mutate their inputs and
// always return a new slice. Results are sorted by the supplied
// SortDescriptor and never contain two elements with the same identity.
package ordered

import (
	"cmp"
	"strings"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

// Direction is the ordering direction of a sort field.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

func (d Direction) flip() Direction {
	if d == Descending {
		return Ascending
	}
	return Descending
}

// SortField is one (field, direction) pair. Compare must order a and b by the
// field's natural ascending order.
type SortField[T any] struct {
	Name      string
	Compare   func(a, b T) int
	Direction Direction
}

// SortDescriptor is an ordered list of sort fields. Elements that compare equal
// on every field are ordered by identity, in the direction of the leading
// field, which makes the descriptor a total order.
type SortDescriptor[T model.Entity] struct {
	fields []SortField[T]
}

// NewSortDescriptor builds a descriptor from fields, most significant first.
func NewSortDescriptor[T model.Entity](fields ...SortField[T]) SortDescriptor[T] {
	return SortDescriptor[T]{fields: append([]SortField[T](nil), fields...)}
}

// Fields returns a copy of the descriptor's fields.
func (d SortDescriptor[T]) Fields() []SortField[T] {
	return append([]SortField[T](nil), d.fields...)
}

// Direction returns the direction of the leading field, which is the
// direction the collection is presented in.
func (d SortDescriptor[T]) Direction() Direction {
	if len(d.fields) == 0 {
		return Ascending
	}
	return d.fields[0].Direction
}

// Compare orders a before b when the result is negative.
func (d SortDescriptor[T]) Compare(a, b T) int {
	for _, f := range d.fields {
		c := f.Compare(a, b)
		if c == 0 {
			continue
		}
		if f.Direction == Descending {
			return -c
		}
		return c
	}
	c := strings.Compare(a.Identity(), b.Identity())
	if d.Direction() == Descending {
		return -c
	}
	return c
}

// Reversed returns the descriptor with every direction flipped. A slice sorted
// by d, reversed, is sorted by d.Reversed().
func (d SortDescriptor[T]) Reversed() SortDescriptor[T] {
	fields := make([]SortField[T], len(d.fields))
	for i, f := range d.fields {
		f.Direction = f.Direction.flip()
		fields[i] = f
	}
	return SortDescriptor[T]{fields: fields}
}

// canonical returns the ascending form of d and whether inputs must be
// reversed to be expressed in it.
func (d SortDescriptor[T]) canonical() (SortDescriptor[T], bool) {
	if d.Direction() == Descending {
		return d.Reversed(), true
	}
	return d, false
}

// IsSorted reports whether items are strictly ordered by d.
func (d SortDescriptor[T]) IsSorted(items []T) bool {
	for i := 1; i < len(items); i++ {
		if d.Compare(items[i-1], items[i]) >= 0 {
			return false
		}
	}
	return true
}

// String renders the descriptor as "field dir, field dir".
func (d SortDescriptor[T]) String() string {
	parts := make([]string, len(d.fields))
	for i, f := range d.fields {
		parts[i] = f.Name + " " + f.Direction.String()
	}
	return strings.Join(parts, ", ")
}

func compareTime(a, b time.Time) int { return a.Compare(b) }

func channelActivity(c model.Channel) time.Time {
	if c.LastMessageAt.IsZero() {
		return c.CreatedAt
	}
	return c.LastMessageAt
}

// ChannelsByLastMessage orders channels by most recent activity first.
// Channels without messages use their creation time as activity.
var ChannelsByLastMessage = NewSortDescriptor(
	SortField[model.Channel]{
		Name:      "last_message_at",
		Compare:   func(a, b model.Channel) int { return compareTime(channelActivity(a), channelActivity(b)) },
		Direction: Descending,
	},
	SortField[model.Channel]{
		Name:      "created_at",
		Compare:   func(a, b model.Channel) int { return compareTime(a.CreatedAt, b.CreatedAt) },
		Direction: Descending,
	},
)

// MessagesByCreatedAt orders messages newest first.
var MessagesByCreatedAt = NewSortDescriptor(
	SortField[model.Message]{
		Name:      "created_at",
		Compare:   func(a, b model.Message) int { return compareTime(a.CreatedAt, b.CreatedAt) },
		Direction: Descending,
	},
)

// UsersByName orders users alphabetically by display name.
var UsersByName = NewSortDescriptor(
	SortField[model.User]{
		Name: "name",
		Compare: func(a, b model.User) int {
			return cmp.Compare(strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName()))
		},
		Direction: Ascending,
	},
)
