// Package filter implements the filter expression engine (spec §4.5): a
// tagged-union expression tree compiled to a predicate over (id, meta,
// attrs), plus attribute-index-backed preselection that narrows a query to
// a finite id set before scoring.
package filter

// Scope selects which payload a Leaf reads from.
type Scope string

const (
	ScopeAttrs Scope = "attrs"
	ScopeMeta  Scope = "meta"
)

// RangeBounds are the optional numeric bounds a range leaf tests.
type RangeBounds struct {
	Gt  *float64
	Gte *float64
	Lt  *float64
	Lte *float64
}

func (r RangeBounds) holds(v float64) bool {
	if r.Gt != nil && !(v > *r.Gt) {
		return false
	}

	if r.Gte != nil && !(v >= *r.Gte) {
		return false
	}

	if r.Lt != nil && !(v < *r.Lt) {
		return false
	}

	if r.Lte != nil && !(v <= *r.Lte) {
		return false
	}

	return true
}

// Leaf is a single-field test (spec §4.5 grammar).
type Leaf struct {
	Key   string
	Scope Scope // defaults to ScopeAttrs

	Match  []any // scalar or array of constants; any overlap/equality passes
	Range  *RangeBounds
	Exists *bool
	IsNull *bool
}

func (l *Leaf) scope() Scope {
	if l.Scope == "" {
		return ScopeAttrs
	}

	return l.Scope
}

// IDSet restricts matching to an explicit id list, composable with Bool
// fields on the same Expr.
type IDSet struct {
	Values []uint32
}

// Bool combines sub-expressions (spec §4.5 "Bool").
type Bool struct {
	Must      []*Expr
	MustNot   []*Expr
	Should    []*Expr
	ShouldMin *int // default: 1 if Should non-empty, else 0
}

func (b *Bool) shouldMin() int {
	if b.ShouldMin != nil {
		return *b.ShouldMin
	}

	if len(b.Should) > 0 {
		return 1
	}

	return 0
}

// Expr is the tagged-union expression node: exactly one of Leaf, Bool, or
// IDSet is expected to be set, though IDSet may be combined with Bool
// fields set directly on the same Expr per spec.
type Expr struct {
	Leaf  *Leaf
	Bool  *Bool
	IDSet *IDSet
}

// RowContext resolves field values for predicate evaluation. Row is a
// store row index; id is resolved by the caller when needed (has_id tests
// operate on ids, not rows, so implementations must be able to map both
// ways — vela's facade supplies one backed by vectorstore.Store plus an
// external attribute provider).
type RowContext interface {
	IDAt(row int) uint32
	MetaValue(row int, key string) (value any, ok bool)
	AttrValue(row int, key string) (value any, ok bool)
}

// Predicate is a compiled filter, ready to test a row.
type Predicate func(ctx RowContext, row int) bool

// Compile turns expr into a Predicate. A nil expr always passes.
func Compile(expr *Expr) Predicate {
	if expr == nil {
		return func(RowContext, int) bool { return true }
	}

	var preds []Predicate

	if expr.Leaf != nil {
		preds = append(preds, compileLeaf(expr.Leaf))
	}

	if expr.IDSet != nil {
		preds = append(preds, compileIDSet(expr.IDSet))
	}

	if expr.Bool != nil {
		preds = append(preds, compileBool(expr.Bool))
	}

	return func(ctx RowContext, row int) bool {
		for _, p := range preds {
			if !p(ctx, row) {
				return false
			}
		}

		return true
	}
}

func compileIDSet(s *IDSet) Predicate {
	set := make(map[uint32]struct{}, len(s.Values))
	for _, v := range s.Values {
		set[v] = struct{}{}
	}

	return func(ctx RowContext, row int) bool {
		_, ok := set[ctx.IDAt(row)]

		return ok
	}
}

func compileBool(b *Bool) Predicate {
	must := make([]Predicate, len(b.Must))
	for i, e := range b.Must {
		must[i] = Compile(e)
	}

	mustNot := make([]Predicate, len(b.MustNot))
	for i, e := range b.MustNot {
		mustNot[i] = Compile(e)
	}

	should := make([]Predicate, len(b.Should))
	for i, e := range b.Should {
		should[i] = Compile(e)
	}

	min := b.shouldMin()

	return func(ctx RowContext, row int) bool {
		for _, p := range must {
			if !p(ctx, row) {
				return false
			}
		}

		for _, p := range mustNot {
			if p(ctx, row) {
				return false
			}
		}

		if len(should) > 0 {
			passed := 0

			for _, p := range should {
				if p(ctx, row) {
					passed++
				}
			}

			if passed < min {
				return false
			}
		} else if min > 0 {
			return false
		}

		return true
	}
}

func compileLeaf(l *Leaf) Predicate {
	return func(ctx RowContext, row int) bool {
		value, ok := resolve(ctx, row, l)

		switch {
		case l.IsNull != nil:
			isNull := ok && value == nil
			return isNull == *l.IsNull
		case l.Exists != nil:
			exists := ok && value != nil
			return exists == *l.Exists
		case l.Match != nil:
			return ok && matchValue(value, l.Match)
		case l.Range != nil:
			num, isNum := asFloat64(value)
			return ok && isNum && l.Range.holds(num)
		default:
			return ok
		}
	}
}

func resolve(ctx RowContext, row int, l *Leaf) (any, bool) {
	if l.scope() == ScopeMeta {
		return ctx.MetaValue(row, l.Key)
	}

	return ctx.AttrValue(row, l.Key)
}

func matchValue(value any, constants []any) bool {
	if arr, ok := value.([]any); ok {
		for _, v := range arr {
			if containsAny(constants, v) {
				return true
			}
		}

		return false
	}

	return containsAny(constants, value)
}

func containsAny(constants []any, v any) bool {
	for _, c := range constants {
		if equalScalar(c, v) {
			return true
		}
	}

	return false
}

func equalScalar(a, b any) bool {
	if af, ok := asFloat64(a); ok {
		if bf, ok := asFloat64(b); ok {
			return af == bf
		}
	}

	return a == b
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
