package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"mlm-referral-backend/internal/domain"
)

func newTestLinker(store domain.NodeStore) *Linker {
	return NewLinker(store, NewCodeGenerator(store, 0), nil)
}

// register a chain A <- B <- C <- D and verify levels, ancestor chains
// and both directions of every link.
func TestRegisterChain(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	linker := newTestLinker(store)

	a, err := linker.Register(ctx, Draft{Email: "a@x.io", Name: "A", Role: domain.RoleReferrer}, "")
	require.NoError(t, err)
	require.True(t, a.IsRoot())
	require.Equal(t, 0, a.Level)
	require.Empty(t, a.Ancestors)
	require.True(t, strings.HasPrefix(a.CodeString(), "REF-"))

	b, err := linker.Register(ctx, Draft{Email: "b@x.io", Name: "B", Role: domain.RoleReferrer}, a.CodeString())
	require.NoError(t, err)
	c, err := linker.Register(ctx, Draft{Email: "c@x.io", Name: "C", Role: domain.RoleReferrer}, b.CodeString())
	require.NoError(t, err)
	d, err := linker.Register(ctx, Draft{Email: "d@x.io", Name: "D", Role: domain.RoleClient}, c.CodeString())
	require.NoError(t, err)

	require.Equal(t, 3, d.Level)
	require.Equal(t, []string{c.ID, b.ID, a.ID}, d.Ancestors)
	require.Equal(t, c.ID, d.SponsorID)
	require.True(t, strings.HasPrefix(d.CodeString(), "CLI-"))

	// parent side of each link
	gotA, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []string{b.ID}, gotA.Children)
	gotC, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{d.ID}, gotC.Children)
}

func TestRegisterDefaults(t *testing.T) {
	ctx := context.Background()
	linker := newTestLinker(newMemStore())

	n, err := linker.Register(ctx, Draft{Email: "x@x.io", Name: "X"}, "")
	require.NoError(t, err)
	require.Equal(t, domain.RoleClient, n.Role)
	require.Equal(t, domain.StatusActive, n.Status)
	require.NotEmpty(t, n.ID)
}

func TestRegisterUnknownSponsor(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	linker := newTestLinker(store)

	_, err := linker.Register(ctx, Draft{Email: "x@x.io"}, "REF-NOPE1234")
	require.ErrorIs(t, err, domain.ErrSponsorNotFound)
	// no orphan left behind
	require.Equal(t, 0, store.count())
}

func TestRegisterPartialWriteSurfaced(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	linker := newTestLinker(store)

	a, err := linker.Register(ctx, Draft{Email: "a@x.io", Role: domain.RoleReferrer}, "")
	require.NoError(t, err)

	// second write (sponsor child-list) fails; the new node must still be
	// returned so the caller can reconcile
	store.saveErrFor = a.ID
	b, err := linker.Register(ctx, Draft{Email: "b@x.io"}, a.CodeString())
	require.ErrorIs(t, err, domain.ErrPartialWrite)
	require.NotNil(t, b)

	created, gerr := store.Get(ctx, b.ID)
	require.NoError(t, gerr)
	require.NotNil(t, created) // node persisted
	gotA, gerr := store.Get(ctx, a.ID)
	require.NoError(t, gerr)
	require.Empty(t, gotA.Children) // link never landed
}

// every concurrent sibling registration must end up in the sponsor's
// child-list; none may overwrite another's append
func TestRegisterConcurrentSiblings(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	linker := newTestLinker(store)

	a, err := linker.Register(ctx, Draft{Email: "a@x.io", Role: domain.RoleReferrer}, "")
	require.NoError(t, err)

	const n = 8
	ids := make(chan string, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("u%d@x.io", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			child, err := linker.Register(ctx, Draft{Email: email}, a.CodeString())
			if err != nil {
				errs <- err
				return
			}
			ids <- child.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	want := make([]string, 0, n)
	for id := range ids {
		want = append(want, id)
	}
	gotA, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, want, gotA.Children)
}

func TestAdminGetsNoCode(t *testing.T) {
	ctx := context.Background()
	linker := newTestLinker(newMemStore())

	n, err := linker.Register(ctx, Draft{Email: "root@x.io", Role: domain.RoleAdmin}, "")
	require.NoError(t, err)
	require.Nil(t, n.Code)
}

func TestCodeGeneratorExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	gen := NewCodeGenerator(collidingStore{newMemStore()}, 3)

	_, err := gen.Next(ctx, domain.RoleReferrer)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpline(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	linker := newTestLinker(store)

	a, _ := linker.Register(ctx, Draft{Email: "a@x.io", Role: domain.RoleReferrer}, "")
	b, _ := linker.Register(ctx, Draft{Email: "b@x.io", Role: domain.RoleReferrer}, a.CodeString())
	c, err := linker.Register(ctx, Draft{Email: "c@x.io"}, b.CodeString())
	require.NoError(t, err)

	ups, err := Upline(ctx, store, c)
	require.NoError(t, err)
	require.Len(t, ups, 2)
	require.Equal(t, b.ID, ups[0].ID)
	require.Equal(t, a.ID, ups[1].ID)

	// dangling ancestor ids are skipped, not fatal
	c.Ancestors = append([]string{"ghost"}, c.Ancestors...)
	ups, err = Upline(ctx, store, c)
	require.NoError(t, err)
	require.Len(t, ups, 2)
}

func TestRegisterStoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.getErr = errors.New("boom")
	linker := newTestLinker(store)

	_, err := linker.Register(ctx, Draft{Email: "x@x.io"}, "REF-AAAA1111")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrSponsorNotFound)
}
