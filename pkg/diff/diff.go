// Package diff implements the generic change-set operator shared by the
// device graph merger, target learner and OST-pool reconciler: given an
// old and a new collection of keyed records, compute the minimal set of
// upserts and deletions needed to turn the old collection into the new
// one.
package diff

import (
	"fmt"
	"sort"
)

// Identifiable is implemented by any record that exposes a stable
// identity key, independent of its other field values.
type Identifiable[K comparable] interface {
	Key() K
}

// Diff compares old and new by identity key and structural equality.
// upserts contains every item in new whose key is absent from old, or
// present with a different value (per equal); deletions contains every
// item in old whose key is absent from new. An item present in both with
// the same key is never a deletion, even if its value changed. Output
// order is deterministic, sorted by the string form of the identity key.
func Diff[T Identifiable[K], K comparable](old, new []T, equal func(a, b T) bool) (upserts, deletions []T) {
	oldByKey := make(map[K]T, len(old))
	for _, o := range old {
		oldByKey[o.Key()] = o
	}
	newByKey := make(map[K]T, len(new))
	for _, n := range new {
		newByKey[n.Key()] = n
	}

	for _, n := range new {
		k := n.Key()
		o, existed := oldByKey[k]
		if !existed || !equal(o, n) {
			upserts = append(upserts, n)
		}
	}

	for _, o := range old {
		k := o.Key()
		if _, stillPresent := newByKey[k]; !stillPresent {
			deletions = append(deletions, o)
		}
	}

	sortByKey(upserts)
	sortByKey(deletions)

	return upserts, deletions
}

func sortByKey[T Identifiable[K], K comparable](items []T) {
	sort.Slice(items, func(i, j int) bool {
		return fmt.Sprint(items[i].Key()) < fmt.Sprint(items[j].Key())
	})
}
