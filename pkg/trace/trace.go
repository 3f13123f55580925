// Package trace reads allocation traces in the malloc lab .rep format.
//
// A trace starts with four header numbers (suggested heap size, number of
// block ids, number of operations, weight) followed by one operation per
// line:
//
//	a <id> <size>   allocate size bytes as block id
//	r <id> <size>   reallocate block id to size bytes
//	f <id>          free block id
package trace

import (
	"bufio"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go-malloc/util/helpers"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var ErrMalformed = errors.New("malformed trace")

// MaxCount bounds the number of ids and operations a header may declare.
const MaxCount = 1 << 24

var headerLimits = [4]struct {
	name string
	max  int64
}{
	{"heap size", math.MaxUint32},
	{"id count", MaxCount},
	{"op count", MaxCount},
	{"weight", math.MaxInt32},
}

type Kind byte

const (
	Alloc   Kind = 'a'
	Realloc Kind = 'r'
	Free    Kind = 'f'
)

func (k Kind) String() string {
	switch k {
	case Alloc:
		return "alloc"
	case Realloc:
		return "realloc"
	case Free:
		return "free"
	}
	return "unknown"
}

type Op struct {
	Kind Kind
	ID   int
	Size uint32
}

type Trace struct {
	Name              string
	SuggestedHeapSize uint32
	NumIDs            int
	NumOps            int
	Weight            int
	Ops               []Op
}

// Open reads the trace at path. Files ending in .gz or .zst are decompressed.
func Open(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open trace")
	}
	defer f.Close()

	var r io.Reader = f
	switch filepath.Ext(path) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open gzip trace %s", path)
		}
		defer gz.Close()
		r = gz
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open zstd trace %s", path)
		}
		defer zr.Close()
		r = zr
	}

	t, err := Parse(r)
	if err != nil {
		return nil, errors.Wrapf(err, "trace %s", path)
	}
	t.Name = Name(path)
	return t, nil
}

// Name strips the directory and the trace/compression extensions from path.
func Name(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".gz", ".zst", ".rep"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// IsTrace reports whether path looks like a trace file by its extension.
func IsTrace(path string) bool {
	name := filepath.Base(path)
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".zst")
	return filepath.Ext(name) == ".rep"
}

// Parse reads a trace from r. Blank lines are skipped. Every id must be
// below the declared number of ids, and the number of operations read must
// match the header.
func Parse(r io.Reader) (*Trace, error) {
	s := bufio.NewScanner(r)
	t := &Trace{}
	line := 0

	header := [4]int{}
	for i := range header {
		fields, err := nextFields(s, &line)
		if err == io.EOF {
			return nil, malformed(line, "header ends after %d numbers", i)
		}
		if err != nil {
			return nil, err
		}
		if len(fields) != 1 {
			return nil, malformed(line, "expected one header number, got %q", strings.Join(fields, " "))
		}
		if header[i], err = strconv.Atoi(fields[0]); err != nil || header[i] < 0 {
			return nil, malformed(line, "bad header number %q", fields[0])
		}
		if lim := headerLimits[i]; int64(header[i]) > lim.max {
			return nil, malformed(line, "%s %d exceeds %d", lim.name, header[i], lim.max)
		}
	}
	t.SuggestedHeapSize = uint32(header[0])
	t.NumIDs, t.NumOps, t.Weight = header[1], header[2], header[3]
	t.Ops = make([]Op, 0, helpers.Min(t.NumOps, 1<<16))

	for {
		fields, err := nextFields(s, &line)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		op, err := parseOp(fields, t.NumIDs)
		if err != nil {
			return nil, malformed(line, "%s", err)
		}
		t.Ops = append(t.Ops, op)
	}

	if len(t.Ops) != t.NumOps {
		return nil, errors.Wrapf(ErrMalformed, "header declares %d ops, found %d", t.NumOps, len(t.Ops))
	}
	return t, nil
}

func parseOp(fields []string, numIDs int) (Op, error) {
	if len(fields[0]) != 1 {
		return Op{}, errors.Errorf("unknown operation %q", fields[0])
	}

	op := Op{Kind: Kind(fields[0][0])}
	want := 3
	switch op.Kind {
	case Alloc, Realloc:
	case Free:
		want = 2
	default:
		return Op{}, errors.Errorf("unknown operation %q", fields[0])
	}
	if len(fields) != want {
		return Op{}, errors.Errorf("%s takes %d arguments, got %d", op.Kind, want-1, len(fields)-1)
	}

	id, err := strconv.Atoi(fields[1])
	if err != nil || id < 0 || id >= numIDs {
		return Op{}, errors.Errorf("bad block id %q", fields[1])
	}
	op.ID = id

	if want == 3 {
		size, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return Op{}, errors.Errorf("bad size %q", fields[2])
		}
		op.Size = uint32(size)
	}
	return op, nil
}

func nextFields(s *bufio.Scanner, line *int) ([]string, error) {
	for s.Scan() {
		*line++
		if fields := strings.Fields(s.Text()); len(fields) > 0 {
			return fields, nil
		}
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read trace")
	}
	return nil, io.EOF
}

func malformed(line int, format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformed, "line %d: "+format, append([]interface{}{line}, args...)...)
}
