package vm

import (
	"errors"

	"github.com/gneo-network/gneo/vm/stackitem"
)

// ErrStackUnderflow is raised by operations on too few items.
var ErrStackUnderflow = errors.New("vm: stack underflow")

// Stack is one evaluation stack. Index 0 is the top.
type Stack struct {
	items []stackitem.Item
	refs  *refCounter
}

// NewStack returns an empty stack accounted against refs.
func NewStack(refs *refCounter) *Stack {
	return &Stack{refs: refs}
}

// Len returns the item count.
func (s *Stack) Len() int {
	return len(s.items)
}

// Push places item on top.
func (s *Stack) Push(item stackitem.Item) {
	s.items = append(s.items, item)
	s.refs.Add(item)
}

// PushVal converts a native value and pushes it.
func (s *Stack) PushVal(v interface{}) {
	s.Push(stackitem.Make(v))
}

// Pop removes and returns the top item.
func (s *Stack) Pop() (stackitem.Item, error) {
	if len(s.items) == 0 {
		return nil, ErrStackUnderflow
	}
	item := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	s.refs.Remove(item)
	return item, nil
}

// Peek returns the item at depth n without removing it.
func (s *Stack) Peek(n int) (stackitem.Item, error) {
	if n < 0 || n >= len(s.items) {
		return nil, ErrStackUnderflow
	}
	return s.items[len(s.items)-1-n], nil
}

// RemoveAt removes the item at depth n.
func (s *Stack) RemoveAt(n int) (stackitem.Item, error) {
	if n < 0 || n >= len(s.items) {
		return nil, ErrStackUnderflow
	}
	idx := len(s.items) - 1 - n
	item := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.refs.Remove(item)
	return item, nil
}

// InsertAt places item at depth n.
func (s *Stack) InsertAt(item stackitem.Item, n int) error {
	if n < 0 || n > len(s.items) {
		return ErrStackUnderflow
	}
	idx := len(s.items) - n
	s.items = append(s.items, nil)
	copy(s.items[idx+1:], s.items[idx:])
	s.items[idx] = item
	s.refs.Add(item)
	return nil
}

// Reverse reverses the top n items.
func (s *Stack) Reverse(n int) error {
	if n < 0 || n > len(s.items) {
		return ErrStackUnderflow
	}
	for i, j := len(s.items)-n, len(s.items)-1; i < j; i, j = i+1, j-1 {
		s.items[i], s.items[j] = s.items[j], s.items[i]
	}
	return nil
}

// Clear drops every item.
func (s *Stack) Clear() {
	for _, item := range s.items {
		s.refs.Remove(item)
	}
	s.items = s.items[:0]
}

// PopInt pops an integer-convertible item.
func (s *Stack) PopInt() (int64, error) {
	item, err := s.Pop()
	if err != nil {
		return 0, err
	}
	v, err := item.TryInteger()
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, stackitem.ErrIntegerTooBig
	}
	return v.Int64(), nil
}

// PopBool pops a boolean-convertible item.
func (s *Stack) PopBool() (bool, error) {
	item, err := s.Pop()
	if err != nil {
		return false, err
	}
	return item.TryBool()
}

// PopBytes pops a bytes-convertible item.
func (s *Stack) PopBytes() ([]byte, error) {
	item, err := s.Pop()
	if err != nil {
		return nil, err
	}
	return item.TryBytes()
}

// refCounter tracks the total number of items referenced by an execution,
// nested compound members included.
type refCounter struct {
	count int
}

func (r *refCounter) Add(item stackitem.Item) {
	r.count += itemWeight(item, 1)
}

func (r *refCounter) Remove(item stackitem.Item) {
	r.count -= itemWeight(item, 1)
}

func itemWeight(item stackitem.Item, depth int) int {
	n := 1
	if depth > stackitem.MaxDeepCopyDepth {
		return n
	}
	switch v := item.(type) {
	case *stackitem.Array:
		for _, e := range v.Value() {
			n += itemWeight(e, depth+1)
		}
	case *stackitem.Struct:
		for _, e := range v.Value() {
			n += itemWeight(e, depth+1)
		}
	case *stackitem.Map:
		for _, e := range v.Value() {
			n += itemWeight(e.Key, depth+1) + itemWeight(e.Value, depth+1)
		}
	}
	return n
}
