package ordered

import (
	"fmt"

	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

// ChangeKind tags a ListChange.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota + 1
	ChangeRemove
	ChangeUpdate
	ChangeMove
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeRemove:
		return "remove"
	case ChangeUpdate:
		return "update"
	case ChangeMove:
		return "move"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// ListChange is a single structural mutation reported by an observation
// layer. Index is the position in the producer's frame of reference; for
// moves FromIndex and ToIndex are set instead. Indexes are hints only.
type ListChange[T model.Entity] struct {
	Kind      ChangeKind
	Item      T
	Index     int
	FromIndex int
	ToIndex   int
}

func (c ListChange[T]) String() string {
	if c.Kind == ChangeMove {
		return fmt.Sprintf("move(%s, %d->%d)", c.Item.Identity(), c.FromIndex, c.ToIndex)
	}
	return fmt.Sprintf("%s(%s, %d)", c.Kind, c.Item.Identity(), c.Index)
}

func Insert[T model.Entity](item T, index int) ListChange[T] {
	return ListChange[T]{Kind: ChangeInsert, Item: item, Index: index}
}

func Remove[T model.Entity](item T, index int) ListChange[T] {
	return ListChange[T]{Kind: ChangeRemove, Item: item, Index: index}
}

func Update[T model.Entity](item T, index int) ListChange[T] {
	return ListChange[T]{Kind: ChangeUpdate, Item: item, Index: index}
}

func Move[T model.Entity](item T, from, to int) ListChange[T] {
	return ListChange[T]{Kind: ChangeMove, Item: item, FromIndex: from, ToIndex: to}
}
