package syncx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/bitacora/internal/db/dbtest"
)

func TestEventRepoAppendSince(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo(dbtest.Open(t), "")

	require.NoError(t, repo.Append(ctx, TypeAttemptStarted, "a-1", map[string]any{"attempt_number": 1}))
	require.NoError(t, repo.Append(ctx, TypeScoreUpserted, "act-9", map[string]any{"rows": 30}))
	require.NoError(t, repo.Append(ctx, TypeAttemptSubmitted, "a-1", map[string]any{"reason": "student"}))

	all, err := repo.Since(ctx, 0, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Less(t, all[0].Seq, all[1].Seq)
	assert.Equal(t, "local", all[0].SiteID)
	assert.JSONEq(t, `{"attempt_number":1}`, string(all[0].Data))

	keyed, err := repo.Since(ctx, 0, "a-1", 10)
	require.NoError(t, err)
	require.Len(t, keyed, 2)
	assert.Equal(t, TypeAttemptSubmitted, keyed[1].Type)

	after, err := repo.Since(ctx, all[1].Seq, "", 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, all[2].Seq, after[0].Seq)

	page, err := repo.Since(ctx, 0, "", 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	assert.Error(t, repo.Append(ctx, TypeWeightsChanged, "s-1", func() {}), "unencodable payload")
	var n Recorder = Nop{}
	assert.NoError(t, n.Append(ctx, TypeWeightsChanged, "s-1", nil))
}
