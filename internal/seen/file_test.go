package seen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileLogMarkAndHas(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sigs.txt")

	l, err := OpenFileLog(path)
	require.NoError(t, err)

	ok, err := l.Has(ctx, "sigA")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.Mark(ctx, "sigA"))
	require.NoError(t, l.Mark(ctx, "sigA"))
	ok, err = l.Has(ctx, "sigA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, l.Len())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "sigA\n", string(raw))
}

func TestFileLogSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sigs.txt")

	l, err := OpenFileLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Mark(ctx, "one"))
	require.NoError(t, l.Mark(ctx, "two"))

	reopened, err := OpenFileLog(path)
	require.NoError(t, err)
	for _, sig := range []string{"one", "two"} {
		ok, err := reopened.Has(ctx, sig)
		require.NoError(t, err)
		require.True(t, ok, sig)
	}
}

func TestFileLogEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sigs.txt")

	l, err := openFileLog(path, 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Mark(ctx, fmt.Sprintf("s%d", i)))
	}
	require.Equal(t, 3, l.Len())

	for i, want := range []bool{false, false, true, true, true} {
		ok, err := l.Has(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		require.Equal(t, want, ok, "s%d", i)
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"s2", "s3", "s4"}, strings.Fields(string(raw)))
}

func TestFileLogTrimsOversizedFileOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigs.txt")
	var b strings.Builder
	for i := 0; i < Window+10; i++ {
		fmt.Fprintf(&b, "sig%d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	l, err := OpenFileLog(path)
	require.NoError(t, err)
	require.Equal(t, Window, l.Len())

	ok, err := l.Has(context.Background(), "sig0")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = l.Has(context.Background(), fmt.Sprintf("sig%d", Window+9))
	require.NoError(t, err)
	require.True(t, ok)
}
