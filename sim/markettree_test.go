package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoParentDefs() []MarketClassDef {
	return []MarketClassDef{
		{ID: "non_hauling.ICE", FuelingClass: FuelingICE},
		{ID: "hauling.BEV", FuelingClass: FuelingBEV},
		{ID: "non_hauling.BEV", FuelingClass: FuelingBEV},
		{ID: "hauling.ICE", FuelingClass: FuelingICE},
	}
}

func TestNewMarketTree_TwoParents_SortedResponsiveParents(t *testing.T) {
	// GIVEN dotted class ids in arbitrary order
	tree, err := NewMarketTree(twoParentDefs())
	require.NoError(t, err)

	// THEN the root is non-responsive with two responsive parents
	assert.False(t, tree.Root.Responsive())
	parents := tree.ResponsiveParents()
	require.Len(t, parents, 2)
	assert.Equal(t, "hauling", parents[0].ID)
	assert.Equal(t, "non_hauling", parents[1].ID)
	assert.Equal(t, []string{"hauling.BEV", "hauling.ICE"}, parents[0].LeafIDs())

	// AND leaves resolve to their parent
	p, ok := tree.ParentOf("non_hauling.BEV")
	require.True(t, ok)
	assert.Equal(t, "non_hauling", p.ID)
	leaf, ok := tree.Leaf("hauling.BEV")
	require.True(t, ok)
	assert.Equal(t, FuelingBEV, leaf.FuelingClass)
	assert.Equal(t, []string{"hauling.BEV", "hauling.ICE"}, tree.LeavesUnder("hauling"))
	assert.Len(t, tree.LeavesUnder(""), 4)
}

func TestNewMarketTree_FlatClasses_RootIsResponsive(t *testing.T) {
	tree, err := NewMarketTree([]MarketClassDef{{ID: "ICE", FuelingClass: FuelingICE}, {ID: "BEV", FuelingClass: FuelingBEV}})
	require.NoError(t, err)
	parents := tree.ResponsiveParents()
	require.Len(t, parents, 1)
	assert.Equal(t, "", parents[0].ID)
}

func TestNewMarketTree_Rejects(t *testing.T) {
	tests := []struct {
		name string
		defs []MarketClassDef
	}{
		{"duplicate", []MarketClassDef{{ID: "a.ICE"}, {ID: "a.ICE"}}},
		{"leaf and parent", []MarketClassDef{{ID: "a"}, {ID: "a.ICE"}}},
		{"mixed children", []MarketClassDef{{ID: "a.ICE"}, {ID: "a.sub.BEV"}}},
		{"empty id", []MarketClassDef{{ID: ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMarketTree(tt.defs)
			assert.Error(t, err)
		})
	}
}

func TestStartYearTable_At(t *testing.T) {
	var tbl StartYearTable[float64]
	tbl.Set(2025, 2)
	tbl.Set(2020, 1)
	tbl.Set(2025, 3)

	_, ok := tbl.At(2019)
	assert.False(t, ok)
	v, ok := tbl.At(2024)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
	v, _ = tbl.At(2030)
	assert.Equal(t, 3.0, v)
	assert.Equal(t, []int{2020, 2025}, tbl.StartYears())
}

func TestConstrainShares(t *testing.T) {
	tests := []struct {
		name    string
		shares  []float64
		bounds  []ShareBounds
		want    []float64
		clipped []bool
	}{
		{"within bounds", []float64{0.6, 0.4}, []ShareBounds{Unbounded, Unbounded}, []float64{0.6, 0.4}, []bool{false, false}},
		{"min raises", []float64{0.95, 0.05}, []ShareBounds{Unbounded, {Min: 0.3, Max: 1}}, []float64{0.7, 0.3}, []bool{false, true}},
		{"max lowers", []float64{0.9, 0.1}, []ShareBounds{{Min: 0, Max: 0.5}, Unbounded}, []float64{0.5, 0.5}, []bool{true, false}},
		{"zero shares split evenly", []float64{0, 0}, []ShareBounds{Unbounded, Unbounded}, []float64{0.5, 0.5}, []bool{false, false}},
		{"three way cascade", []float64{0.8, 0.1, 0.1}, []ShareBounds{{Max: 0.4}, {Max: 0.25}, Unbounded}, []float64{0.4, 0.25, 0.35}, []bool{true, true, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clipped := ConstrainShares(tt.shares, tt.bounds)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-9, "child %d", i)
			}
			assert.Equal(t, tt.clipped, clipped)
			assert.True(t, SumsToOne(got))
		})
	}
}

func TestFeasibleBounds(t *testing.T) {
	// GIVEN minimums summing past one
	b := FeasibleBounds([]ShareBounds{{Min: 0.8, Max: 1}, {Min: 0.4, Max: 1}})
	assert.InDelta(t, 1, b[0].Min+b[1].Min, 1e-12)

	// GIVEN maximums summing below one
	b = FeasibleBounds([]ShareBounds{{Max: 0.2}, {Max: 0.3}})
	assert.InDelta(t, 1, b[0].Max+b[1].Max, 1e-12)
}
