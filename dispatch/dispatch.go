// Package dispatch implements multi-way branch selection with C style case
// fallthrough as an explicit, ordered case table.
package dispatch

import (
	"sort"

	"github.com/pkg/errors"
)

// Case is one labelled entry of a table. When Fallthrough is set, running
// the case continues into the next entry instead of ending the dispatch.
type Case[A any] struct {
	Label       int64
	Action      A
	Fallthrough bool
}

// Table is an immutable list of cases in ascending label order.
type Table[A any] struct {
	cases []Case[A]
}

// ErrDuplicateLabel is returned by NewTable when two cases share a label.
var ErrDuplicateLabel = errors.New("dispatch: duplicate case label")

// NewTable orders cases by label. Source order of equal labels is
// irrelevant because equal labels are rejected.
func NewTable[A any](cases ...Case[A]) (*Table[A], error) {
	sorted := append([]Case[A](nil), cases...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Label < sorted[j].Label
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Label == sorted[i-1].Label {
			return nil, errors.Wrapf(ErrDuplicateLabel, "label %d", sorted[i].Label)
		}
	}
	return &Table[A]{cases: sorted}, nil
}

// MustTable is NewTable for tables fixed at compile time.
func MustTable[A any](cases ...Case[A]) *Table[A] {
	t, err := NewTable(cases...)
	if err != nil {
		panic(err)
	}
	return t
}

// Cases returns the ordered entries.
func (t *Table[A]) Cases() []Case[A] {
	return append([]Case[A](nil), t.cases...)
}

func (t *Table[A]) find(selector int64) (int, bool) {
	i := sort.Search(len(t.cases), func(i int) bool {
		return t.cases[i].Label >= selector
	})
	return i, i < len(t.cases) && t.cases[i].Label == selector
}

// Dispatch runs do for the case labelled selector and for every following
// case reached by fallthrough. It returns how many actions ran; a selector
// with no case runs nothing.
func (t *Table[A]) Dispatch(selector int64, do func(A)) int {
	i, ok := t.find(selector)
	if !ok {
		return 0
	}

	n := 0
	for ; i < len(t.cases); i++ {
		c := t.cases[i]
		do(c.Action)
		n++
		if !c.Fallthrough {
			break
		}
	}
	return n
}

// Trace returns the actions Dispatch would run for selector, in order.
func (t *Table[A]) Trace(selector int64) []A {
	var out []A
	t.Dispatch(selector, func(a A) { out = append(out, a) })
	return out
}
