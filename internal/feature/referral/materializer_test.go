package referral

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mlm-referral-backend/internal/domain"
)

func TestMaterializeDepthOne(t *testing.T) {
	ctx := context.Background()
	store, root := buildFixtureTree(t)
	mat := NewMaterializer(store, 0)

	tv, err := mat.Materialize(ctx, root.ID, 1)
	require.NoError(t, err)
	require.Equal(t, root.ID, tv.ID)
	require.Len(t, tv.Children, 2) // B and E

	// one level only: B's own downline (C) is not materialized
	for _, child := range tv.Children {
		require.NotNil(t, child.Children)
		require.Empty(t, child.Children)
	}
}

func TestMaterializeDepthZero(t *testing.T) {
	ctx := context.Background()
	store, root := buildFixtureTree(t)
	mat := NewMaterializer(store, 0)

	tv, err := mat.Materialize(ctx, root.ID, 0)
	require.NoError(t, err)
	require.Equal(t, root.ID, tv.ID)
	require.NotNil(t, tv.Children)
	require.Empty(t, tv.Children)
}

func TestMaterializeStopsAtBudgetNotTreeDepth(t *testing.T) {
	ctx := context.Background()
	store, root := buildFixtureTree(t)
	mat := NewMaterializer(store, 0)

	// tree is 3 deep under the root; ask for 2
	tv, err := mat.Materialize(ctx, root.ID, 2)
	require.NoError(t, err)

	var b *TreeView
	for _, child := range tv.Children {
		if child.Name == "B" {
			b = child
		}
	}
	require.NotNil(t, b)
	require.Len(t, b.Children, 1)             // C shows up at depth 2
	require.Empty(t, b.Children[0].Children)  // D (depth 3) does not
}

func TestMaterializeFullDepth(t *testing.T) {
	ctx := context.Background()
	store, root := buildFixtureTree(t)
	mat := NewMaterializer(store, 0)

	tv, err := mat.Materialize(ctx, root.ID, DefaultTreeDepth)
	require.NoError(t, err)

	var b *TreeView
	for _, child := range tv.Children {
		if child.Name == "B" {
			b = child
		}
	}
	require.NotNil(t, b)
	require.Len(t, b.Children, 1)
	require.Len(t, b.Children[0].Children, 1)
	require.Equal(t, "D", b.Children[0].Children[0].Name)
}

func TestMaterializeUnknownRoot(t *testing.T) {
	mat := NewMaterializer(newMemStore(), 0)
	_, err := mat.Materialize(context.Background(), "nope", 3)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMaterializeIdempotent(t *testing.T) {
	ctx := context.Background()
	store, root := buildFixtureTree(t)
	mat := NewMaterializer(store, 0)

	first, err := mat.Materialize(ctx, root.ID, 3)
	require.NoError(t, err)
	second, err := mat.Materialize(ctx, root.ID, 3)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestMaterializeToleratesCycleInDirtyData(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.mustPut(&domain.Node{ID: "x", Name: "X", Children: []string{"y"}})
	store.mustPut(&domain.Node{ID: "y", Name: "Y", Level: 1, Children: []string{"x"}})

	tv, err := NewMaterializer(store, 0).Materialize(ctx, "x", 10)
	require.NoError(t, err)
	require.Len(t, tv.Children, 1)
	require.Empty(t, tv.Children[0].Children) // x not re-entered
}

func TestMaterializeVisitBudget(t *testing.T) {
	ctx := context.Background()
	store, root := buildFixtureTree(t)
	mat := NewMaterializer(store, 1)

	tv, err := mat.Materialize(ctx, root.ID, 3)
	require.NoError(t, err)
	require.Len(t, tv.Children, 1) // budget of one visit, then stop
}
