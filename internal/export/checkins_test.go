package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/antoniostano/confidant/internal/domain"
)

func TestWriteCheckins(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	checkins := []domain.Checkin{
		{Mood: 7, Stress: 3, Note: "slept well", CreatedAt: time.Date(2026, time.March, 15, 2, 5, 0, 0, time.UTC)},
		{Mood: 4, Stress: 8, CreatedAt: time.Date(2026, time.March, 13, 18, 0, 0, 0, time.UTC)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCheckins(&buf, checkins, loc))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"2026-03-14", "21:05", "7", "3", "slept well"}, rows[1])
	assert.Equal(t, []string{"2026-03-13", "13:00", "4", "8"}, rows[2])
}

func TestWriteCheckinsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCheckins(&buf, nil, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "checkins-20260315.xlsx", Filename(time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC)))
}
