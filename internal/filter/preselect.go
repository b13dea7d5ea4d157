package filter

import "github.com/RoaringBitmap/roaring/v2"

// AttrIndexReader is the external attribute index borrowed during a query
// (spec §3 "Attribute index reader"). Each method may return (nil, false)
// to mean "no index support for this key/op" so the caller falls back to
// a full predicate scan.
type AttrIndexReader interface {
	Eq(key string, value any) (IDSet *UintSet, supported bool)
	Exists(key string) (IDSet *UintSet, supported bool)
	Range(key string, bounds RangeBounds) (IDSet *UintSet, supported bool)
}

// UintSet is a set of ids, the unit of currency for preselection. Backed
// by a Roaring bitmap (github.com/RoaringBitmap/roaring/v2), the same
// structure used by internal/ann.CandidateSet, so a preselection result
// converts to a search CandidateSet without a second set representation.
type UintSet struct {
	bitmap *roaring.Bitmap
}

// NewUintSet builds a UintSet from ids.
func NewUintSet(ids []uint32) *UintSet {
	bm := roaring.New()
	bm.AddMany(ids)

	return &UintSet{bitmap: bm}
}

func (s *UintSet) Len() int {
	if s == nil {
		return 0
	}

	return int(s.bitmap.GetCardinality())
}

func (s *UintSet) Contains(id uint32) bool {
	if s == nil {
		return false
	}

	return s.bitmap.Contains(id)
}

func (s *UintSet) Ids() []uint32 {
	if s == nil {
		return nil
	}

	return s.bitmap.ToArray()
}

func intersect(a, b *UintSet) *UintSet {
	if a == nil {
		return b
	}

	if b == nil {
		return a
	}

	return &UintSet{bitmap: roaring.And(a.bitmap, b.bitmap)}
}

func union(a, b *UintSet) *UintSet {
	if a == nil && b == nil {
		return nil
	}

	if a == nil {
		return &UintSet{bitmap: b.bitmap.Clone()}
	}

	if b == nil {
		return &UintSet{bitmap: a.bitmap.Clone()}
	}

	return &UintSet{bitmap: roaring.Or(a.bitmap, b.bitmap)}
}

func subtract(a, b *UintSet) *UintSet {
	if a == nil {
		return nil // "no support" stays unbounded; cannot subtract from unknown
	}

	if b == nil {
		return a
	}

	return &UintSet{bitmap: roaring.AndNot(a.bitmap, b.bitmap)}
}

// Preselect attempts to narrow expr to a finite id set using reader (spec
// §4.5 "Preselection"). A nil result means "no index support": callers
// should fall back to a full predicate scan. Preselection is advisory —
// even a non-nil, non-empty result doesn't guarantee every matching row
// was found if the expression also includes terms the index can't serve;
// those terms still need an additional predicate-scan pass against the
// preselected candidates.
func Preselect(expr *Expr, reader AttrIndexReader) *UintSet {
	if expr == nil {
		return nil
	}

	if expr.IDSet != nil {
		return NewUintSet(expr.IDSet.Values)
	}

	if expr.Leaf != nil {
		return preselectLeaf(expr.Leaf, reader)
	}

	if expr.Bool != nil {
		return preselectBool(expr.Bool, reader)
	}

	return nil
}

func preselectLeaf(l *Leaf, reader AttrIndexReader) *UintSet {
	if l.scope() != ScopeAttrs {
		return nil
	}

	switch {
	case l.Exists != nil && *l.Exists:
		if set, ok := reader.Exists(l.Key); ok {
			return set
		}
	case len(l.Match) == 1:
		if set, ok := reader.Eq(l.Key, l.Match[0]); ok {
			return set
		}
	case l.Range != nil:
		if set, ok := reader.Range(l.Key, *l.Range); ok {
			return set
		}
	}

	return nil
}

func preselectBool(b *Bool, reader AttrIndexReader) *UintSet {
	var result *UintSet

	haveMust := false

	for _, e := range b.Must {
		set := Preselect(e, reader)
		if set == nil {
			continue // unsupported term: don't let it poison the intersection to empty
		}

		if !haveMust {
			result = set
			haveMust = true
		} else {
			result = intersect(result, set)
		}
	}

	if len(b.Should) > 0 {
		var shouldUnion *UintSet

		allSupported := true

		for _, e := range b.Should {
			set := Preselect(e, reader)
			if set == nil {
				allSupported = false

				break
			}

			shouldUnion = union(shouldUnion, set)
		}

		if allSupported {
			if haveMust {
				result = intersect(result, shouldUnion)
			} else {
				result = shouldUnion
				haveMust = true
			}
		}
	}

	for _, e := range b.MustNot {
		set := Preselect(e, reader)
		if set == nil || !haveMust {
			continue
		}

		result = subtract(result, set)
	}

	return result
}
