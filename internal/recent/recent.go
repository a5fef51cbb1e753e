// Package recent implements a small most-recent-first list of city names
// with case-insensitive de-duplication and a fixed capacity.
package recent

import "strings"

// DefaultCapacity is the number of recent searches kept.
const DefaultCapacity = 3

type List struct {
	capacity int
	items    []string
}

func New(capacity int) *List {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &List{capacity: capacity}
}

// FromSlice builds a list from stored items, ordered most recent first.
// Later case-insensitive duplicates and anything past capacity are dropped.
func FromSlice(capacity int, items []string) *List {
	l := New(capacity)
	for i := len(items) - 1; i >= 0; i-- {
		if strings.TrimSpace(items[i]) == "" {
			continue
		}
		l.Add(items[i])
	}
	return l
}

// Add removes any entry equal to city ignoring case, prepends city and
// truncates to capacity.
func (l *List) Add(city string) {
	next := make([]string, 0, l.capacity+1)
	next = append(next, city)
	for _, c := range l.items {
		if strings.EqualFold(c, city) {
			continue
		}
		next = append(next, c)
	}
	if len(next) > l.capacity {
		next = next[:l.capacity]
	}
	l.items = next
}

func (l *List) Clone() *List {
	return &List{capacity: l.capacity, items: l.Items()}
}

func (l *List) Items() []string {
	out := make([]string, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) Len() int {
	return len(l.items)
}

func (l *List) Contains(city string) bool {
	for _, c := range l.items {
		if strings.EqualFold(c, city) {
			return true
		}
	}
	return false
}
