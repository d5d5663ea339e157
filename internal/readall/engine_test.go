package readall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ltp/testlib/internal/result"
	"github.com/ltp/testlib/internal/resultlog"
	"github.com/ltp/testlib/internal/workerpool"
)

func TestMain(m *testing.M) {
	workerpool.Init()
	os.Exit(m.Run())
}

func TestBlacklistMatchesGlobPatterns(t *testing.T) {
	e := New(Options{Blacklist: []string{"*/secret/*"}}, resultlog.New("t", "r", &result.Counters{}))
	require.True(t, e.blacklisted("/tmp/secret/file"))
	require.False(t, e.blacklisted("/tmp/public/file"))
}

func TestDefaultReaderCountIsBoundedByFifteen(t *testing.T) {
	require.LessOrEqual(t, DefaultReaderCount(), 15)
	require.GreaterOrEqual(t, DefaultReaderCount(), 1)
}

func TestRunReadsEveryFileUnderRoot(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644))
	}

	e := New(Options{Root: dir, Readers: 2}, resultlog.New("readall", "run1", &result.Counters{}))
	require.NoError(t, e.Run())
}
