package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutAndDelete(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, "/reports/")
	ctx := context.Background()

	res, err := l.Put(ctx, strings.NewReader(`{"matched":3}`), PutInput{
		Name:        "reconcile-20260831.json",
		ContentType: "application/json",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Key, "-reconcile-20260831.json"))
	assert.Equal(t, "/reports/"+res.Key, res.URL)

	data, err := os.ReadFile(filepath.Join(dir, res.Key))
	require.NoError(t, err)
	assert.Equal(t, `{"matched":3}`, string(data))

	require.NoError(t, l.Delete(ctx, res.Key))
	_, err = os.Stat(filepath.Join(dir, res.Key))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalPutSanitizesName(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, "/reports")

	res, err := l.Put(context.Background(), strings.NewReader("x"), PutInput{
		Name: "../../etc/passwd",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Key, "-passwd"))
	assert.NotContains(t, res.Key, "..")

	// the file lands inside the base dir
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
