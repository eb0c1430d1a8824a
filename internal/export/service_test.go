package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/repository"
)

func TestExportJobsXLSX(t *testing.T) {
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{Driver: repository.DriverSQLite, DSN: "file:" + filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repository.Close(db, nil) })
	require.NoError(t, repository.Migrate(ctx, db, nil))

	docs := repository.NewDocumentRepository(db, nil)
	jobs := repository.NewOCRJobRepository(db, nil)

	add := func(name string) *entity.Document {
		sum := sha256.Sum256([]byte(name))
		d, err := docs.Create(ctx, &entity.Document{Filename: name, FileExt: "png", ContentHash: sum[:], StoragePath: "/s/" + name})
		require.NoError(t, err)
		return d
	}
	done := add("done.png")
	require.NoError(t, jobs.EnsurePending(ctx, done.ID))
	_, err = jobs.Claim(ctx, done.ID, nil)
	require.NoError(t, err)
	_, err = jobs.FinishSuccess(ctx, done.ID, strings.Repeat("x", 200), 0.75, constants.MethodTesseract)
	require.NoError(t, err)

	fixed := add("fixed.png")
	_, err = jobs.Correct(ctx, fixed.ID, "by hand")
	require.NoError(t, err)

	svc := NewService(jobs, docs, nil)
	data, err := svc.ExportJobsXLSX(ctx, "")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{sheetName}, f.GetSheetList())

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])

	byName := map[string][]string{}
	for _, r := range rows[1:] {
		byName[r[1]] = r
	}
	assert.Equal(t, "completed", byName["done.png"][2])
	assert.Equal(t, constants.MethodTesseract, byName["done.png"][3])
	assert.Equal(t, "0.75", byName["done.png"][4])
	assert.Len(t, []rune(byName["done.png"][7]), 140)
	assert.Equal(t, "corrected", byName["fixed.png"][2])
	assert.Equal(t, "by hand", byName["fixed.png"][7])

	data, err = svc.ExportJobsXLSX(ctx, constants.JobStatusCorrected)
	require.NoError(t, err)
	f2, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f2.Close()
	rows, err = f2.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
