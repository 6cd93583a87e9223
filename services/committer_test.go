package services

import (
	"context"
	"testing"

	"interaction-pipeline/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func newCommitter(f *fixture, logger *zap.Logger) (*Committer, *StagingLoader) {
	loader := NewStagingLoader(f.db, logger, 0)
	return NewCommitter(f.db, f.registry, loader, logger, nil), loader
}

func TestValidateBatchSize(t *testing.T) {
	assert.NoError(t, ValidateBatchSize(1))
	assert.NoError(t, ValidateBatchSize(10000))
	assert.ErrorIs(t, ValidateBatchSize(0), ErrInvalidBatchSize)
	assert.ErrorIs(t, ValidateBatchSize(10001), ErrInvalidBatchSize)
}

func TestCommitInsertsCanonicalPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, loader := newCommitter(f, zap.NewNop())

	_, err := loader.Load(ctx, "run-1", []InteractionRecord{record(2, "Warfarin", "Fish Oil", models.SeverityHigh)})
	require.NoError(t, err)
	res, err := c.Commit(ctx, "run-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Processed())

	var ix models.Interaction
	require.NoError(t, f.db.First(&ix).Error)
	assert.Less(t, ix.ASubstanceID, ix.BSubstanceID)
	assert.ElementsMatch(t, []string{f.ids["Warfarin"], f.ids["Fish Oil"]}, []string{ix.ASubstanceID, ix.BSubstanceID})
	assert.Equal(t, "run-1", ix.LastRunID)
}

func TestCommitUpsertIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, loader := newCommitter(f, zap.NewNop())

	rows := []InteractionRecord{
		record(2, "Warfarin", "Fish Oil", models.SeverityHigh),
		record(3, "Aspirin", "Warfarin", models.SeveritySevere),
	}
	_, err := loader.Load(ctx, "run-1", rows)
	require.NoError(t, err)
	res, err := c.Commit(ctx, "run-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Batches)

	// gleiche Werte: skipped
	_, err = loader.Load(ctx, "run-2", rows)
	require.NoError(t, err)
	res, err = c.Commit(ctx, "run-2", 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Inserted+res.Updated)

	// geänderter Schweregrad: updated
	rows[0].Severity = models.SeverityModerate
	_, err = loader.Load(ctx, "run-3", rows)
	require.NoError(t, err)
	res, err = c.Commit(ctx, "run-3", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)

	assert.EqualValues(t, 2, f.interactionCount(t))
	var ix models.Interaction
	require.NoError(t, f.db.Where("summary_short = ?", rows[0].SummaryShort).First(&ix).Error)
	assert.Equal(t, models.SeverityModerate, ix.Severity)
	assert.Equal(t, "run-3", ix.LastRunID)
}

func TestCommitDuplicatePairLastRowWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, loader := newCommitter(f, zap.NewNop())

	_, err := loader.Load(ctx, "run-1", []InteractionRecord{
		record(2, "Fish Oil", "Warfarin", models.SeverityHigh),
		record(3, "Warfarin", "Fish Oil", models.SeverityLow),
	})
	require.NoError(t, err)
	res, err := c.Commit(ctx, "run-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated)

	assert.EqualValues(t, 1, f.interactionCount(t))
	var ix models.Interaction
	require.NoError(t, f.db.First(&ix).Error)
	assert.Equal(t, models.SeverityLow, ix.Severity)
}

func TestCommitRowErrorsDoNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, loader := newCommitter(f, zap.NewNop())

	_, err := loader.Load(ctx, "run-1", []InteractionRecord{
		record(2, "Warfarin", "Coumadin", models.SeverityHigh),
		record(3, "Unobtainium", "Warfarin", models.SeverityHigh),
		record(4, "Aspirin", "Warfarin", models.SeverityHigh),
	})
	require.NoError(t, err)
	res, err := c.Commit(ctx, "run-1", 1000)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Errored)
	assert.Equal(t, res.Total, res.Processed())
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "self-pair")
	assert.Equal(t, 3, res.Errors[1].Row)
	assert.Equal(t, ColSubstanceA, res.Errors[1].Column)
}

func TestCommitCancelBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)

	// bricht nach dem ersten bestätigten Batch ab
	logger := zaptest.NewLogger(t, zaptest.Level(zapcore.DebugLevel), zaptest.WrapOptions(zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == "Batch committed" {
			cancel()
		}
		return nil
	})))
	c, loader := newCommitter(f, logger)

	_, err := loader.Load(context.Background(), "run-1", []InteractionRecord{
		record(2, "Fish Oil", "Warfarin", models.SeverityHigh),
		record(3, "Aspirin", "Warfarin", models.SeverityHigh),
		record(4, "Aspirin", "Fish Oil", models.SeverityHigh),
	})
	require.NoError(t, err)

	res, err := c.Commit(ctx, "run-1", 1)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 1, res.Inserted)
	assert.EqualValues(t, 1, f.interactionCount(t))
}

func TestCommitRejectsInvalidBatchSize(t *testing.T) {
	f := newFixture(t)
	c, _ := newCommitter(f, zap.NewNop())
	_, err := c.Commit(context.Background(), "run-1", 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
	assert.Equal(t, ExitUsage, ExitCodeFor(err))
}
