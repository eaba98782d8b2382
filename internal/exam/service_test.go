package exam

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/bitacora/internal/apperr"
	"github.com/mind-engage/bitacora/internal/db/dbtest"
	"github.com/mind-engage/bitacora/internal/question"
)

func newTestService(t *testing.T, approved int) (*Service, *SQLStore) {
	t.Helper()
	ctx := context.Background()
	conn := dbtest.Open(t)
	qs := question.NewSQLStore(conn)
	for i := 0; i < approved; i++ {
		v := choiceVersion("", 4, intp(1))
		v.Status = question.StatusApproved
		_, err := qs.Put(ctx, v)
		require.NoError(t, err)
	}
	store := NewSQLStore(conn)
	return NewService(store, qs, nil, WithRand(rand.New(rand.NewSource(3)))), store
}

func TestCreateBlueprintValidation(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	bp := partialBlueprint(3)
	bp.ID, bp.TotalPoints = "", 0
	got, err := svc.CreateBlueprint(ctx, bp)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, DefaultTotalPoints, got.TotalPoints)

	stored, err := svc.Blueprint(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.PartialNumber, stored.PartialNumber)
	assert.True(t, got.StartTime.Equal(stored.StartTime))

	noPartial := partialBlueprint(3)
	noPartial.PartialNumber = nil
	_, err = svc.CreateBlueprint(ctx, noPartial)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	badRange := partialBlueprint(3)
	badRange.Difficulty = DifficultyRange{Min: 7, Max: 3}
	_, err = svc.CreateBlueprint(ctx, badRange)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDefaultTotalPointsOption(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewSQLStore(conn), question.NewSQLStore(conn), nil, WithDefaultTotalPoints(20))
	bp := partialBlueprint(2)
	bp.TotalPoints = 0
	got, err := svc.CreateBlueprint(context.Background(), bp)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.TotalPoints)
}

func TestAssembleAndTransition(t *testing.T) {
	svc, store := newTestService(t, 4)
	ctx := context.Background()

	bp, err := svc.CreateBlueprint(ctx, partialBlueprint(3))
	require.NoError(t, err)

	_, err = svc.Transition(ctx, bp.ID, StatusScheduled)
	assert.ErrorIs(t, err, apperr.ErrNotReady, "no questions yet")

	res, err := svc.AssembleExam(ctx, bp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.AssignedCount)
	assert.InDelta(t, 10.0, res.TotalPoints, 1e-9)

	again, err := svc.AssembleExam(ctx, bp.ID)
	require.NoError(t, err, "reassembly replaces links while in draft")
	assert.Equal(t, 3, again.AssignedCount)
	links, err := store.ListLinks(ctx, bp.ID)
	require.NoError(t, err)
	assert.Len(t, links, 3)

	_, err = svc.Transition(ctx, bp.ID, StatusClosed)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "draft cannot jump to closed")

	moved, err := svc.Transition(ctx, bp.ID, StatusScheduled)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, moved.Status)

	_, err = svc.AssembleExam(ctx, bp.ID)
	assert.Error(t, err, "links are frozen outside draft")

	snap, err := svc.Snapshot(ctx, bp.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Links, 3)
	assert.Len(t, snap.Defs, 3)
	for _, l := range snap.Links {
		assert.Equal(t, question.KindSingleChoice, snap.Defs[l.QuestionID].Kind())
	}

	back, err := svc.Transition(ctx, bp.ID, StatusDraft)
	require.NoError(t, err, "no attempts yet")
	assert.Equal(t, StatusDraft, back.Status)
}

func TestAssembleInsufficientPool(t *testing.T) {
	svc, _ := newTestService(t, 2)
	ctx := context.Background()
	bp, err := svc.CreateBlueprint(ctx, partialBlueprint(3))
	require.NoError(t, err)
	_, err = svc.AssembleExam(ctx, bp.ID)
	assert.ErrorIs(t, err, apperr.ErrInsufficientPool)
}

func TestListBlueprints(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()
	for _, sec := range []string{"s1", "s1", "s2"} {
		bp := partialBlueprint(1)
		bp.ID, bp.SectionID = "", sec
		_, err := svc.CreateBlueprint(ctx, bp)
		require.NoError(t, err)
	}
	got, err := svc.List(ctx, ListOpts{SectionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	got, err = svc.List(ctx, ListOpts{Status: StatusActive})
	require.NoError(t, err)
	assert.Empty(t, got)
}
