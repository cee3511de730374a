package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRecord_ValidJSON(t *testing.T) {
	path := writeTempFile(t, "record.json",
		`{"product_id":"sku-1","title":"Oak Desk","description":"A desk.","image_url":"https://cdn.example.com/desk.jpg"}`)

	rec, err := loadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "sku-1", rec.ProductID)
	assert.Equal(t, "Oak Desk", rec.Title)
	assert.Equal(t, "A desk.", rec.Description)
	assert.Equal(t, "https://cdn.example.com/desk.jpg", rec.ImageURL)
}

func TestLoadRecord_MissingFile(t *testing.T) {
	_, err := loadRecord(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read record file")
}

func TestLoadRecord_MalformedJSON(t *testing.T) {
	path := writeTempFile(t, "record.json", `{"product_id": `)

	_, err := loadRecord(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse record file")
}

func TestLoadRecords_SkipsBlankLines(t *testing.T) {
	path := writeTempFile(t, "records.jsonl",
		`{"product_id":"sku-1","title":"Oak Desk"}

{"product_id":"sku-2","title":"Velvet Sofa"}
`)

	records, err := loadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "sku-1", records[0].ProductID)
	assert.Equal(t, "sku-2", records[1].ProductID)
}

func TestLoadRecords_ReportsLineNumber(t *testing.T) {
	path := writeTempFile(t, "records.jsonl",
		`{"product_id":"sku-1","title":"Oak Desk"}
not json
`)

	_, err := loadRecords(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadRecords_EmptyFile(t *testing.T) {
	path := writeTempFile(t, "records.jsonl", "\n\n")

	records, err := loadRecords(path)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func setPredictFlags(t *testing.T, file, id, title, desc, image string) {
	t.Helper()
	predictFile, predictID, predictTitle, predictDesc, predictImage = file, id, title, desc, image
	t.Cleanup(func() {
		predictFile, predictID, predictTitle, predictDesc, predictImage = "", "", "", "", ""
	})
}

func TestPredictInput_FromFlags(t *testing.T) {
	setPredictFlags(t, "", "sku-9", "Brass Lamp", "A lamp.", "https://cdn.example.com/lamp.jpg")

	rec, err := predictInput()
	require.NoError(t, err)
	assert.Equal(t, "sku-9", rec.ProductID)
	assert.Equal(t, "Brass Lamp", rec.Title)
	assert.Equal(t, "A lamp.", rec.Description)
	assert.Equal(t, "https://cdn.example.com/lamp.jpg", rec.ImageURL)
}

func TestPredictInput_RequiresIDAndTitle(t *testing.T) {
	setPredictFlags(t, "", "sku-9", "", "", "")

	_, err := predictInput()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--id and --title")
}

func TestPredictInput_FileTakesPrecedence(t *testing.T) {
	path := writeTempFile(t, "record.json", `{"product_id":"from-file","title":"File Chair"}`)
	setPredictFlags(t, path, "from-flags", "Flag Chair", "", "")

	rec, err := predictInput()
	require.NoError(t, err)
	assert.Equal(t, "from-file", rec.ProductID)
}
