package database_test

import (
	"context"
	"testing"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchema_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewTestDB(ctx)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, database.CreateSchema(ctx, db))

	count, err := db.NewSelect().Model((*models.RefundRecord)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDropSchema(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewTestDB(ctx)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, database.DropSchema(ctx, db))
	_, err = db.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
	assert.Error(t, err)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := database.Open(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
