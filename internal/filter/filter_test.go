package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/velodb/vela/internal/filter"
)

type fakeRow struct {
	id    uint32
	meta  map[string]any
	attrs map[string]any
}

type fakeCtx struct {
	rows []fakeRow
}

func (c *fakeCtx) IDAt(row int) uint32 { return c.rows[row].id }

func (c *fakeCtx) MetaValue(row int, key string) (any, bool) {
	v, ok := c.rows[row].meta[key]
	return v, ok
}

func (c *fakeCtx) AttrValue(row int, key string) (any, bool) {
	v, ok := c.rows[row].attrs[key]
	return v, ok
}

func newCtx() *fakeCtx {
	return &fakeCtx{rows: []fakeRow{
		{id: 1, attrs: map[string]any{"color": "red", "price": 10.0}},
		{id: 2, attrs: map[string]any{"color": "blue", "price": 20.0}},
		{id: 3, attrs: map[string]any{"tags": []any{"a", "b"}}},
		{id: 4, attrs: map[string]any{}},
	}}
}

func ptrBool(b bool) *bool { return &b }

func TestCompile_NilExprAlwaysPasses(t *testing.T) {
	ctx := newCtx()
	pred := filter.Compile(nil)
	assert.True(t, pred(ctx, 0))
}

func TestCompile_LeafMatchScalar(t *testing.T) {
	ctx := newCtx()
	expr := &filter.Expr{Leaf: &filter.Leaf{Key: "color", Match: []any{"red"}}}
	pred := filter.Compile(expr)

	assert.True(t, pred(ctx, 0))
	assert.False(t, pred(ctx, 1))
}

func TestCompile_LeafMatchArrayOverlap(t *testing.T) {
	ctx := newCtx()
	expr := &filter.Expr{Leaf: &filter.Leaf{Key: "tags", Match: []any{"b", "c"}}}
	pred := filter.Compile(expr)

	assert.True(t, pred(ctx, 2))
	assert.False(t, pred(ctx, 0))
}

func TestCompile_LeafExists(t *testing.T) {
	ctx := newCtx()
	expr := &filter.Expr{Leaf: &filter.Leaf{Key: "color", Exists: ptrBool(true)}}
	pred := filter.Compile(expr)

	assert.True(t, pred(ctx, 0))
	assert.False(t, pred(ctx, 3))
}

func TestCompile_LeafRange(t *testing.T) {
	ctx := newCtx()
	gte := 15.0
	expr := &filter.Expr{Leaf: &filter.Leaf{Key: "price", Range: &filter.RangeBounds{Gte: &gte}}}
	pred := filter.Compile(expr)

	assert.False(t, pred(ctx, 0))
	assert.True(t, pred(ctx, 1))
}

func TestCompile_IDSet(t *testing.T) {
	ctx := newCtx()
	expr := &filter.Expr{IDSet: &filter.IDSet{Values: []uint32{1, 3}}}
	pred := filter.Compile(expr)

	assert.True(t, pred(ctx, 0))
	assert.False(t, pred(ctx, 1))
	assert.True(t, pred(ctx, 2))
}

func TestCompile_BoolMustAndMustNot(t *testing.T) {
	ctx := newCtx()
	expr := &filter.Expr{Bool: &filter.Bool{
		Must:    []*filter.Expr{{Leaf: &filter.Leaf{Key: "color", Exists: ptrBool(true)}}},
		MustNot: []*filter.Expr{{Leaf: &filter.Leaf{Key: "color", Match: []any{"red"}}}},
	}}
	pred := filter.Compile(expr)

	assert.False(t, pred(ctx, 0)) // red, excluded
	assert.True(t, pred(ctx, 1))  // blue, matches must, not excluded
	assert.False(t, pred(ctx, 3)) // no color at all, fails must
}

func TestCompile_BoolShouldMin(t *testing.T) {
	ctx := newCtx()
	two := 2
	expr := &filter.Expr{Bool: &filter.Bool{
		Should: []*filter.Expr{
			{Leaf: &filter.Leaf{Key: "color", Match: []any{"red"}}},
			{Leaf: &filter.Leaf{Key: "price", Match: []any{10.0}}},
		},
		ShouldMin: &two,
	}}
	pred := filter.Compile(expr)

	assert.True(t, pred(ctx, 0))  // matches both
	assert.False(t, pred(ctx, 1)) // matches neither
}

func TestCompile_BoolShouldDefaultMin(t *testing.T) {
	ctx := newCtx()
	expr := &filter.Expr{Bool: &filter.Bool{
		Should: []*filter.Expr{
			{Leaf: &filter.Leaf{Key: "color", Match: []any{"blue"}}},
		},
	}}
	pred := filter.Compile(expr)

	assert.False(t, pred(ctx, 0))
	assert.True(t, pred(ctx, 1))
}

type fakeReader struct {
	eq     map[string][]uint32
	exists map[string][]uint32
}

func (r *fakeReader) Eq(key string, value any) (*filter.UintSet, bool) {
	ids, ok := r.eq[key+"="+value.(string)]
	if !ok {
		return nil, false
	}

	return filter.NewUintSet(ids), true
}

func (r *fakeReader) Exists(key string) (*filter.UintSet, bool) {
	ids, ok := r.exists[key]
	if !ok {
		return nil, false
	}

	return filter.NewUintSet(ids), true
}

func (r *fakeReader) Range(string, filter.RangeBounds) (*filter.UintSet, bool) {
	return nil, false
}

func TestPreselect_LeafEq(t *testing.T) {
	reader := &fakeReader{eq: map[string][]uint32{"color=red": {1, 5}}}
	expr := &filter.Expr{Leaf: &filter.Leaf{Key: "color", Match: []any{"red"}}}

	set := filter.Preselect(expr, reader)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(1))
	assert.True(t, set.Contains(5))
}

func TestPreselect_UnsupportedReturnsNil(t *testing.T) {
	reader := &fakeReader{}
	expr := &filter.Expr{Leaf: &filter.Leaf{Key: "price", Range: &filter.RangeBounds{}}}

	set := filter.Preselect(expr, reader)
	assert.Nil(t, set)
}

func TestPreselect_MustIntersects(t *testing.T) {
	reader := &fakeReader{eq: map[string][]uint32{
		"color=red":  {1, 2, 3},
		"shape=ball": {2, 3, 4},
	}}
	expr := &filter.Expr{Bool: &filter.Bool{Must: []*filter.Expr{
		{Leaf: &filter.Leaf{Key: "color", Match: []any{"red"}}},
		{Leaf: &filter.Leaf{Key: "shape", Match: []any{"ball"}}},
	}}}

	set := filter.Preselect(expr, reader)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(2))
	assert.True(t, set.Contains(3))
}

func TestPreselect_MustNotSubtracts(t *testing.T) {
	reader := &fakeReader{eq: map[string][]uint32{
		"color=red":  {1, 2, 3},
		"shape=ball": {2},
	}}
	expr := &filter.Expr{Bool: &filter.Bool{
		Must:    []*filter.Expr{{Leaf: &filter.Leaf{Key: "color", Match: []any{"red"}}}},
		MustNot: []*filter.Expr{{Leaf: &filter.Leaf{Key: "shape", Match: []any{"ball"}}}},
	}}

	set := filter.Preselect(expr, reader)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(1))
	assert.True(t, set.Contains(3))
}

func TestPreselect_ShouldUnionsThenIntersectsWithMust(t *testing.T) {
	reader := &fakeReader{eq: map[string][]uint32{
		"color=red":  {1, 2, 3},
		"shape=ball": {3},
		"shape=cube": {4},
	}}
	expr := &filter.Expr{Bool: &filter.Bool{
		Must: []*filter.Expr{{Leaf: &filter.Leaf{Key: "color", Match: []any{"red"}}}},
		Should: []*filter.Expr{
			{Leaf: &filter.Leaf{Key: "shape", Match: []any{"ball"}}},
			{Leaf: &filter.Leaf{Key: "shape", Match: []any{"cube"}}},
		},
	}}

	set := filter.Preselect(expr, reader)
	assert.Equal(t, 1, set.Len())
	assert.True(t, set.Contains(3))
}

func TestPreselect_IDSetExplicit(t *testing.T) {
	expr := &filter.Expr{IDSet: &filter.IDSet{Values: []uint32{7, 8}}}

	set := filter.Preselect(expr, &fakeReader{})
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(7))
}
