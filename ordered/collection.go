package ordered

import (
	"iter"
	"slices"

	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

// Collection is an immutable, sorted, duplicate free snapshot. Every
// operation returns a new Collection with an incremented version; the
// receiver is never modified, so snapshots can be shared across goroutines.
type Collection[T model.Entity] struct {
	items   []T
	desc    SortDescriptor[T]
	version uint64
}

// OrderedChannels, OrderedMessages and OrderedUsers are the collections the
// controllers expose.
type (
	OrderedChannels = Collection[model.Channel]
	OrderedMessages = Collection[model.Message]
	OrderedUsers    = Collection[model.User]
)

// NewCollection returns a version 0 collection holding items sorted by desc.
func NewCollection[T model.Entity](desc SortDescriptor[T], items ...T) *Collection[T] {
	return &Collection[T]{
		items: WithInsertingPaginated(nil, items, desc),
		desc:  desc,
	}
}

func NewOrderedChannels(items ...model.Channel) *OrderedChannels {
	return NewCollection(ChannelsByLastMessage, items...)
}

func NewOrderedMessages(items ...model.Message) *OrderedMessages {
	return NewCollection(MessagesByCreatedAt, items...)
}

func NewOrderedUsers(items ...model.User) *OrderedUsers {
	return NewCollection(UsersByName, items...)
}

// WithListChanges returns a new snapshot with changes applied.
func (c *Collection[T]) WithListChanges(changes []ListChange[T]) *Collection[T] {
	return c.next(WithListChanges(c.items, changes, c.desc))
}

// WithInsertingPaginated returns a new snapshot with batch merged in.
func (c *Collection[T]) WithInsertingPaginated(batch []T, opts ...PaginationOption[T]) *Collection[T] {
	return c.next(WithInsertingPaginated(c.items, batch, c.desc, opts...))
}

// Replace returns a new snapshot holding exactly items.
func (c *Collection[T]) Replace(items []T) *Collection[T] {
	return c.next(WithInsertingPaginated(nil, items, c.desc))
}

func (c *Collection[T]) next(items []T) *Collection[T] {
	return &Collection[T]{items: items, desc: c.desc, version: c.version + 1}
}

// Version increases by one with every derived snapshot.
func (c *Collection[T]) Version() uint64 { return c.version }

func (c *Collection[T]) Descriptor() SortDescriptor[T] { return c.desc }

func (c *Collection[T]) Len() int { return len(c.items) }

func (c *Collection[T]) At(i int) T { return c.items[i] }

// Items returns a copy of the elements.
func (c *Collection[T]) Items() []T { return slices.Clone(c.items) }

// All iterates over index and element pairs.
func (c *Collection[T]) All() iter.Seq2[int, T] {
	return slices.All(c.items)
}

// IndexOf returns the position of the element with identity id, or -1.
func (c *Collection[T]) IndexOf(id string) int {
	return slices.IndexFunc(c.items, func(item T) bool { return item.Identity() == id })
}

// Contains reports whether an element with identity id is present.
func (c *Collection[T]) Contains(id string) bool { return c.IndexOf(id) >= 0 }

// Get returns the element with identity id.
func (c *Collection[T]) Get(id string) (T, bool) {
	if i := c.IndexOf(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Last returns the final element, which for newest-first message lists is the
// oldest one loaded and therefore the cursor for the previous page.
func (c *Collection[T]) Last() (T, bool) {
	if len(c.items) == 0 {
		var zero T
		return zero, false
	}
	return c.items[len(c.items)-1], true
}
