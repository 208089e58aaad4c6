package source

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAll(t *testing.T, src Source) (titles []string, malformed int) {
	t.Helper()
	ctx := context.Background()
	for {
		rec, err := src.Next(ctx)
		if err == io.EOF {
			return titles, malformed
		}
		if err != nil {
			require.ErrorIs(t, err, ErrMalformedRecord)
			malformed++
			continue
		}
		titles = append(titles, rec.Title)
	}
}

func TestJSONL_Next(t *testing.T) {
	path := writeFile(t, "in.jsonl",
		`{"title":"a","pmcid":"PMC1","year":2019}`+"\n"+
			"\n"+
			`{not json}`+"\n"+
			`{"title":"b","article":"body"}`) // no trailing newline

	src, err := OpenJSONL(path)
	require.NoError(t, err)
	defer src.Close()

	titles, malformed := readAll(t, src)
	assert.Equal(t, []string{"a", "b"}, titles)
	assert.Equal(t, 1, malformed)
}

func TestJSONL_DecodesFields(t *testing.T) {
	path := writeFile(t, "in.jsonl", `{"title":"t","url":"u","pmcid":123,"doi":null,"year":"2020","text":"x"}`+"\n")
	src, err := OpenJSONL(path)
	require.NoError(t, err)
	defer src.Close()

	rec, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123", rec.PMCID.String())
	assert.Equal(t, "", rec.DOI.String())
	assert.Equal(t, "2020", rec.Year.String())
	assert.Equal(t, "x", rec.Body())
}

func TestJSONL_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.jsonl.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(`{"title":"z1"}` + "\n" + `{"title":"z2"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	src, err := OpenJSONL(path)
	require.NoError(t, err)
	defer src.Close()

	titles, _ := readAll(t, src)
	assert.Equal(t, []string{"z1", "z2"}, titles)
}

func TestJSONL_Skip(t *testing.T) {
	path := writeFile(t, "in.jsonl", "{\"title\":\"0\"}\n{bad\n\n{\"title\":\"2\"}\n{\"title\":\"3\"}\n")
	src, err := OpenJSONL(path)
	require.NoError(t, err)
	defer src.Close()

	n, err := src.Skip(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rec, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", rec.Title)

	n, err = src.Skip(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "stream shorter than requested skip")
}

func TestOpenJSONL_Errors(t *testing.T) {
	_, err := OpenJSONL("")
	assert.Error(t, err)

	_, err = OpenJSONL(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)

	_, err = OpenJSONL(writeFile(t, "bad.jsonl.gz", "not gzip"))
	assert.Error(t, err)
}

func TestJSONL_CancelledContext(t *testing.T) {
	src, err := OpenJSONL(writeFile(t, "in.jsonl", `{"title":"a"}`+"\n"))
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
