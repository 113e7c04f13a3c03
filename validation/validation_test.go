package validation

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heriberto777/transferengine/record"
)

func TestRunDropsMissingRequiredFields(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := []record.Row{
		{"id": 1, "name": "A"},
		{"id": nil, "name": "B"},
		{"name": "C"},
	}

	res, err := Run(context.Background(), db, Rules{RequiredFields: []string{"id"}}, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counters.Kept)
	assert.Equal(t, 2, res.Counters.DroppedMissing)
	assert.Len(t, res.ToInsert, 1)
}

func TestRunSkipsExistenceCheckWhenTableEmpty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := []record.Row{{"id": 1}, {"id": 2}}
	res, err := Run(context.Background(), db, Rules{RequiredFields: []string{"id"}}, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Counters.Kept)
	assert.Equal(t, 0, res.Counters.AlreadyPresent)
}

func TestRunSplitsExistingRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM target WHERE id IN").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	rows := []record.Row{{"id": 1}, {"id": 2}}
	res, err := Run(context.Background(), db, Rules{
		RequiredFields: []string{"id"},
		ExistenceTable: "target",
		ExistenceKey:   "id",
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counters.Kept)
	assert.Equal(t, 1, res.Counters.AlreadyPresent)
	require.Len(t, res.ToInsert, 1)
	assert.Equal(t, 2, res.ToInsert[0]["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMissingExistenceKeyIsInvalidConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = Run(context.Background(), db, Rules{ExistenceTable: "target"}, []record.Row{{"id": 1}})
	require.Error(t, err)
}
