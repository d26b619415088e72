package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mlm-referral-backend/internal/domain"
)

// per-test in-memory database to avoid cross-test interference
func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Node{}))
	return db
}

func strPtr(s string) *string { return &s }

func TestNodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewNodeRepo(setupDB(t))

	n := &domain.Node{
		ID:        "n1",
		Email:     "a@x.io",
		Name:      "A",
		Role:      domain.RoleReferrer,
		Status:    domain.StatusActive,
		Code:      strPtr("REF-AAAA1111"),
		Ancestors: []string{"p1", "p2"},
		Children:  []string{"c1"},
		Level:     2,
		Earnings:  12.5,
	}
	require.NoError(t, r.Create(ctx, n))

	got, err := r.Get(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []string{"p1", "p2"}, got.Ancestors)
	require.Equal(t, []string{"c1"}, got.Children)
	require.Equal(t, "REF-AAAA1111", got.CodeString())
	require.InDelta(t, 12.5, got.Earnings, 1e-9)

	missing, err := r.Get(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestGetByCode(t *testing.T) {
	ctx := context.Background()
	r := NewNodeRepo(setupDB(t))

	require.NoError(t, r.Create(ctx, &domain.Node{
		ID: "n1", Email: "a@x.io", Role: domain.RoleClient, Code: strPtr("CLI-BBBB2222"),
	}))

	got, err := r.GetByCode(ctx, "CLI-BBBB2222")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "n1", got.ID)

	missing, err := r.GetByCode(ctx, "CLI-NOPE0000")
	require.NoError(t, err)
	require.Nil(t, missing)

	// empty code must not match admins (which carry NULL codes)
	empty, err := r.GetByCode(ctx, "")
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestCodeUniqueIndexSpansRoles(t *testing.T) {
	ctx := context.Background()
	r := NewNodeRepo(setupDB(t))

	require.NoError(t, r.Create(ctx, &domain.Node{ID: "n1", Email: "a@x.io", Code: strPtr("REF-SAME0000")}))
	err := r.Create(ctx, &domain.Node{ID: "n2", Email: "b@x.io", Code: strPtr("REF-SAME0000")})
	require.Error(t, err)

	// two admins without codes are fine (NULL, not empty string)
	require.NoError(t, r.Create(ctx, &domain.Node{ID: "ad1", Email: "ad1@x.io", Role: domain.RoleAdmin}))
	require.NoError(t, r.Create(ctx, &domain.Node{ID: "ad2", Email: "ad2@x.io", Role: domain.RoleAdmin}))
}

func TestDeleteWithChildrenConflicts(t *testing.T) {
	ctx := context.Background()
	r := NewNodeRepo(setupDB(t))

	require.NoError(t, r.Create(ctx, &domain.Node{ID: "p", Email: "p@x.io", Children: []string{"c"}}))
	require.NoError(t, r.Create(ctx, &domain.Node{ID: "c", Email: "c@x.io", SponsorID: "p", Level: 1}))

	err := r.Delete(ctx, "p")
	require.ErrorIs(t, err, domain.ErrConflict)

	// still there
	got, gerr := r.Get(ctx, "p")
	require.NoError(t, gerr)
	require.NotNil(t, got)
}

func TestDeleteLeafCleansSponsorChildren(t *testing.T) {
	ctx := context.Background()
	r := NewNodeRepo(setupDB(t))

	require.NoError(t, r.Create(ctx, &domain.Node{ID: "p", Email: "p@x.io", Children: []string{"c1", "c2"}}))
	require.NoError(t, r.Create(ctx, &domain.Node{ID: "c1", Email: "c1@x.io", SponsorID: "p", Level: 1}))
	require.NoError(t, r.Create(ctx, &domain.Node{ID: "c2", Email: "c2@x.io", SponsorID: "p", Level: 1}))

	require.NoError(t, r.Delete(ctx, "c1"))

	gone, err := r.Get(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, gone)

	p, err := r.Get(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, p.Children)
}

func TestDeleteUnknown(t *testing.T) {
	r := NewNodeRepo(setupDB(t))
	err := r.Delete(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// Concurrent registrations under one sponsor must all land: a full-row
// save of the sponsor would let the last writer overwrite the others and
// silently drop children (orphaning whole subtrees for aggregate/tree).
func TestAppendChildConcurrentRegistrations(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection: queries serialize at the pool, so the races left are
	// exactly the application-level read-append-write interleaves
	sqlDB.SetMaxOpenConns(1)
	r := NewNodeRepo(db)

	require.NoError(t, r.Create(ctx, &domain.Node{ID: "p", Email: "p@x.io"}))

	const n = 8
	want := make([]string, 0, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		want = append(want, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.AppendChild(ctx, "p", id)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := r.Get(ctx, "p")
	require.NoError(t, err)
	require.ElementsMatch(t, want, p.Children)
}

func TestAppendChildIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewNodeRepo(setupDB(t))

	require.NoError(t, r.Create(ctx, &domain.Node{ID: "p", Email: "p@x.io"}))
	require.NoError(t, r.AppendChild(ctx, "p", "c1"))
	require.NoError(t, r.AppendChild(ctx, "p", "c1"))

	p, err := r.Get(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, p.Children)
}

func TestAppendChildUnknownSponsor(t *testing.T) {
	r := NewNodeRepo(setupDB(t))
	err := r.AppendChild(context.Background(), "nope", "c1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveUpdatesLinks(t *testing.T) {
	ctx := context.Background()
	r := NewNodeRepo(setupDB(t))

	require.NoError(t, r.Create(ctx, &domain.Node{ID: "p", Email: "p@x.io"}))
	p, err := r.Get(ctx, "p")
	require.NoError(t, err)

	p.Children = append(p.Children, "c1")
	require.NoError(t, r.Save(ctx, p))

	got, err := r.Get(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, got.Children)
}
