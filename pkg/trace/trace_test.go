package trace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	tr, err := Open("testdata/short1-bal.rep")
	require.NoError(t, err)

	require.Equal(t, "short1-bal", tr.Name)
	require.Equal(t, uint32(20000), tr.SuggestedHeapSize)
	require.Equal(t, 6, tr.NumIDs)
	require.Equal(t, 12, tr.NumOps)
	require.Equal(t, 1, tr.Weight)
	require.Len(t, tr.Ops, 12)
	require.Equal(t, Op{Kind: Alloc, ID: 0, Size: 2040}, tr.Ops[0])
	require.Equal(t, Op{Kind: Free, ID: 1}, tr.Ops[2])
	require.Equal(t, Op{Kind: Free, ID: 5}, tr.Ops[11])
}

func TestOpenRealloc(t *testing.T) {
	tr, err := Open("testdata/realloc-bal.rep")
	require.NoError(t, err)
	require.Equal(t, Op{Kind: Realloc, ID: 0, Size: 600}, tr.Ops[2])
	require.Equal(t, Op{Kind: Realloc, ID: 2, Size: 9000}, tr.Ops[6])
}

func TestOpenGzip(t *testing.T) {
	plain, err := Open("testdata/short1-bal.rep")
	require.NoError(t, err)

	gz, err := Open("testdata/short1-bal.rep.gz")
	require.NoError(t, err)
	require.Equal(t, plain, gz)
}

func TestOpenZstd(t *testing.T) {
	raw, err := os.ReadFile("testdata/realloc-bal.rep")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "realloc-bal.rep.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	plain, err := Open("testdata/realloc-bal.rep")
	require.NoError(t, err)
	zst, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, plain, zst)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open("testdata/nope.rep")
	require.Error(t, err)
	require.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestParseBlankLines(t *testing.T) {
	tr, err := Parse(strings.NewReader("\n100\n2\n\n2\n1\n\na 1 5\n\nf 1\n"))
	require.NoError(t, err)
	require.Equal(t, []Op{{Kind: Alloc, ID: 1, Size: 5}, {Kind: Free, ID: 1}}, tr.Ops)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		msg   string
	}{
		{"short header", "100\n2\n", "header ends after 2 numbers"},
		{"bad header", "100\nx\n1\n1\n", "line 2: bad header number"},
		{"two header fields", "100 2\n", "line 1: expected one header number"},
		{"unknown op", "100\n2\n1\n1\nx 0 1\n", "line 5: unknown operation"},
		{"long op", "100\n2\n1\n1\nal 0 1\n", "unknown operation"},
		{"free with size", "100\n2\n1\n1\nf 0 1\n", "free takes 1 arguments"},
		{"alloc without size", "100\n2\n1\n1\na 0\n", "alloc takes 2 arguments"},
		{"id out of range", "100\n2\n1\n1\na 2 1\n", "bad block id"},
		{"negative size", "100\n2\n1\n1\na 0 -1\n", "bad size"},
		{"op count", "100\n2\n2\n1\na 0 1\n", "header declares 2 ops, found 1"},
		{"huge op count", "0\n1\n9000000000000000000\n1\nf 0\n", "line 3: op count 9000000000000000000 exceeds"},
		{"huge id count", "0\n9000000000000000000\n1\n1\nf 0\n", "line 2: id count 9000000000000000000 exceeds"},
		{"huge heap size", "4294967296\n1\n1\n1\nf 0\n", "line 1: heap size 4294967296 exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = Parse(strings.NewReader(tt.input)) })
			require.Error(t, err)
			require.Equal(t, ErrMalformed, errors.Cause(err))
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestName(t *testing.T) {
	require.Equal(t, "amptjp-bal", Name("/traces/amptjp-bal.rep"))
	require.Equal(t, "amptjp-bal", Name("amptjp-bal.rep.gz"))
	require.Equal(t, "amptjp-bal", Name("amptjp-bal.rep.zst"))

	require.True(t, IsTrace("a/b.rep"))
	require.True(t, IsTrace("b.rep.gz"))
	require.True(t, IsTrace("b.rep.zst"))
	require.False(t, IsTrace("b.txt"))
	require.False(t, IsTrace("b.gz"))
}
