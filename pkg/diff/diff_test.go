package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	col1, col2 string
	age        int
	amount     int
}

func (i item) Key() string { return i.col1 + "." + i.col2 }

func itemEqual(a, b item) bool { return a == b }

// TestGetChanges mirrors the upsert/deletion partition demonstrated by
// the original change-set operator's fixture (mickey/minnie/donald),
// adapted to this package's identity-key-plus-equality-function
// contract rather than the source's Ord-derived set membership.
func TestGetChanges(t *testing.T) {
	oldItems := []item{
		{col1: "mickey", col2: "mouse", age: 16, amount: 27},
		{col1: "minnie", col2: "mouse", age: 17, amount: 32},
		{col1: "All your base", col2: "Are belong to us", age: 54, amount: 0},
	}
	newItems := []item{
		{col1: "mickey", col2: "mouse", age: 16, amount: 27},
		{col1: "minnie", col2: "mouse", age: 23, amount: 32},
		{col1: "donald", col2: "duck", age: 7, amount: 18},
	}

	upserts, deletions := Diff(oldItems, newItems, itemEqual)

	assert.Equal(t, []item{
		{col1: "donald", col2: "duck", age: 7, amount: 18},
		{col1: "minnie", col2: "mouse", age: 23, amount: 32},
	}, upserts)

	assert.Equal(t, []item{
		{col1: "All your base", col2: "Are belong to us", age: 54, amount: 0},
	}, deletions)
}

func TestDiffEqualInputsEmpty(t *testing.T) {
	items := []item{{col1: "a", col2: "b", age: 1}}
	upserts, deletions := Diff(items, items, itemEqual)
	assert.Empty(t, upserts)
	assert.Empty(t, deletions)
}

// TestDiffIsInverseOfMerge checks invariant 9: applying upserts then
// deletions to old reproduces new exactly.
func TestDiffIsInverseOfMerge(t *testing.T) {
	oldItems := []item{
		{col1: "a", col2: "x", age: 1},
		{col1: "b", col2: "x", age: 2},
		{col1: "c", col2: "x", age: 3},
	}
	newItems := []item{
		{col1: "a", col2: "x", age: 1},
		{col1: "b", col2: "x", age: 99},
		{col1: "d", col2: "x", age: 4},
	}

	upserts, deletions := Diff(oldItems, newItems, itemEqual)

	byKey := make(map[string]item)
	for _, o := range oldItems {
		byKey[o.Key()] = o
	}
	for _, u := range upserts {
		byKey[u.Key()] = u
	}
	for _, d := range deletions {
		delete(byKey, d.Key())
	}

	got := make([]item, 0, len(byKey))
	for _, v := range byKey {
		got = append(got, v)
	}

	assert.ElementsMatch(t, newItems, got)
}

func TestDiffNeverDeletesChangedRecord(t *testing.T) {
	oldItems := []item{{col1: "a", col2: "x", age: 1}}
	newItems := []item{{col1: "a", col2: "x", age: 2}}

	_, deletions := Diff(oldItems, newItems, itemEqual)
	assert.Empty(t, deletions)
}
