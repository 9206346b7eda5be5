package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgresStore(t *testing.T) (*Store, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("loanscore"),
		postgres.WithUsername("loanscore"),
		postgres.WithPassword("loanscore"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, DriverPostgres, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dsn
}

func TestPostgresStore(t *testing.T) {
	s, dsn := setupPostgresStore(t)
	ctx := context.Background()

	scored := newTestApplication("u1")
	scored.SetPrediction(701.25, 0, 0.2)
	require.NoError(t, s.CreateApplication(ctx, scored))

	omitted := newTestApplication("u1")
	omitted.OmitPrediction("scoring process exited with code 1: unknown error")
	require.NoError(t, s.CreateApplication(ctx, omitted))

	list, err := s.ListApplications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, omitted.ID, list[0].ID)
	assert.True(t, list[1].HasPrediction())

	pending, err := s.ListOmittedApplications(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	omitted.SetPrediction(588, 1, 0.77)
	require.NoError(t, s.UpdatePrediction(ctx, omitted))

	got, err := s.GetApplication(ctx, "u1", omitted.ID)
	require.NoError(t, err)
	assert.Equal(t, 588.0, *got.CreditScore)

	_, err = s.GetApplication(ctx, "u2", omitted.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateStatus(ctx, "u1", scored.ID, StatusRejected))

	// reopening must not re-apply migrations
	again, err := Open(ctx, DriverPostgres, dsn)
	require.NoError(t, err)
	assert.NoError(t, again.Close())
}
