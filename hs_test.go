package hyperbase

import (
	"bytes"
	"io"
	"io/ioutil"
	"math/rand"
	"testing"

	"github.com/hlubek/readercomp"
)

// randStream supports the io.Reader interface -- see the RandStream
// function for usage.
type randStream struct {
	Size    int64
	nextPos int64
}

func (s *randStream) Read(p []byte) (n int, err error) {
	start := s.nextPos
	if start >= s.Size {
		err = io.EOF
		return
	}
	end := start + int64(len(p))
	if end > s.Size {
		// We need to limit the total bytes read from the stream so
		// that we don't return more than Size.  There may be a better
		// way of doing this, but in the meantime, on the last Read(),
		// we'll create a smaller buffer than p, write into that, and
		// then copy to p.
		buf := make([]byte, s.Size-start)
		_, err = rand.Read(buf)
		if err != nil {
			return
		}
		n = copy(p, buf)
	} else {
		n, err = rand.Read(p)
	}
	s.nextPos += int64(n)
	return
}

func (rs *randStream) Rewind() error {
	*rs = randStream{Size: rs.Size}
	rand.Seed(42)
	return nil
}

// RandStream supports the io.Reader interface.  It returns a stream
// that will produce `size` bytes of random data before EOF.
func RandStream(size int64) (stream *randStream) {
	stream = &randStream{Size: size}
	rand.Seed(42)
	return
}

func TestRandStream(t *testing.T) {
	size := int64(10 * miB)
	stream := RandStream(size)
	buf, err := ioutil.ReadAll(stream)
	tassert(t, err == nil, "ReadAll: %v", err)
	tassert(t, size == int64(len(buf)), "size: expected %d got %d", size, len(buf))
}

func TestGetBlock(t *testing.T) {
	hs := setup(t, nil)
	val := mkbuf("somevalue")
	path, err := pathFromBuf(hs, "block", "sha256", val)
	if err != nil {
		t.Fatal(err)
	}
	gotblock, err := hs.PutBlock("sha256", val)
	if err != nil {
		t.Fatal(err)
	}
	if path.Canon != gotblock.Path.Canon {
		t.Fatalf("expected path %s, got %s", path.Canon, gotblock.Path.Canon)
	}
	got, err := hs.GetBlock(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Compare(val, got) != 0 {
		t.Fatalf("expected %q, got %q", string(val), string(got))
	}
}

func TestRm(t *testing.T) {
	hs := setup(t, nil)
	buf := mkbuf("somevalue")
	block, err := hs.PutBlock("sha256", buf)
	if err != nil {
		t.Fatal(err)
	}
	err = hs.Rm(block.Path)
	if err != nil {
		t.Fatal(err)
	}
	gotblock, err := hs.GetBlock(block.Path)
	if err == nil {
		t.Fatalf("block not deleted: %#v", gotblock)
	}
}

func TestCreateExisting(t *testing.T) {
	hs := setup(t, nil)

	// initializing over a populated directory must fail
	_, err := Hs{Dir: hs.Dir}.Create()
	tassert(t, err != nil, "expected error, got none")
	_, ok := err.(*ExistsError)
	tassert(t, ok, "expected ExistsError, got %#v", err)
}

func TestOpenNotHs(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenHs(dir)
	tassert(t, err != nil, "expected error, got none")
	_, ok := err.(*NotHsError)
	tassert(t, ok, "expected NotHsError, got %#v", err)

	_, err = OpenHs(dir + "/nonexistent")
	tassert(t, err != nil, "expected error, got none")
}

func TestPutStream(t *testing.T) {
	hs := setup(t, nil)

	size := int64(3 * miB)
	stream := RandStream(size)
	root1, err := hs.PutStream("sha256", stream)
	tassert(t, err == nil, "PutStream: %v", err)
	tassert(t, root1 != nil, "root1 is nil")

	gotsize, err := root1.Size()
	tassert(t, err == nil, "Size: %v", err)
	tassert(t, gotsize == size, "size: expected %d got %d", size, gotsize)

	// identical content chunks identically, so a second put
	// deduplicates to the same rootnode
	err = stream.Rewind()
	tassert(t, err == nil, "Rewind: %v", err)
	root2, err := hs.PutStream("sha256", stream)
	tassert(t, err == nil, "PutStream: %v", err)
	tassert(t, root1.Path.Canon == root2.Path.Canon,
		"rootnode mismatch: expect %v got %v", root1.Path.Canon, root2.Path.Canon)

	// reading the tree gives back the original stream
	err = stream.Rewind()
	tassert(t, err == nil, "Rewind: %v", err)
	gottree, err := hs.GetTree(root2.Path)
	tassert(t, err == nil, "GetTree: %v", err)
	ok, err := readercomp.Equal(stream, gottree, 4096) // XXX try different sizes
	tassert(t, err == nil, "readercomp.Equal: %v", err)
	tassert(t, ok, "stream mismatch")
}

func TestCreateCategoryBadName(t *testing.T) {
	hs := setup(t, nil)
	for _, name := range []string{"", ".", "..", "a/b", "nul\x00byte"} {
		err := hs.CreateCategory(name)
		tassert(t, err != nil, "expected error for %q, got none", name)
	}
}
