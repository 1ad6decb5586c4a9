package hyperbase

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/hlubek/readercomp"
)

func TestTree(t *testing.T) {
	hs := setup(t, nil)
	// setup
	buf1 := mkbuf("blob1value")
	child1, err := hs.PutBlock("sha256", buf1)
	if err != nil {
		t.Fatal(err)
	}
	buf2 := mkbuf("blob2value")
	child2, err := hs.PutBlock("sha256", buf2)
	if err != nil {
		t.Fatal(err)
	}

	// put
	tree, err := hs.PutTree("sha256", child1, child2)
	if err != nil {
		t.Fatal(err)
	}
	if tree == nil {
		t.Fatal("tree is nil")
	}

	expect := "tree/sha256/c89a57f991a863f3dfe665a0305c432e1c13c19df7803bc8cbb5eb09822ce55c"
	tassert(t, expect == tree.Path.Canon, "expected %v got %v", expect, tree.Path.Canon)

	ok, err := tree.Verify()
	if err != nil {
		t.Fatal(err)
	}
	tassert(t, ok, "tree verify failed: %v", tree)

	// get
	gottree, err := hs.GetTree(tree.Path)
	if err != nil {
		t.Fatal(err)
	}
	expecttxt, err := tree.Txt()
	tassert(t, err == nil, "%#v", err)
	gottxt, err := gottree.Txt()
	tassert(t, err == nil, "%#v", err)
	tassert(t, expecttxt == gottxt, "tree %v mismatch: expect %v got %v", tree.Path.Abs, expecttxt, gottxt)
}

func TestTreeEmpty(t *testing.T) {
	hs := setup(t, nil)

	// a tree with no children is the empty journal
	tree, err := hs.PutTree("sha256")
	if err != nil {
		t.Fatal(err)
	}

	expect := "tree/sha256/f27e01fe7624cca3e69811a0bf9a4efd9dca9fd39f7a3a8f939cae0cfe8cdfb8"
	tassert(t, expect == tree.Path.Canon, "expected %v got %v", expect, tree.Path.Canon)

	size, err := tree.Size()
	tassert(t, err == nil, "%#v", err)
	tassert(t, size == 0, "size %v", size)

	gottree, err := hs.GetTree(tree.Path)
	tassert(t, err == nil, "%#v", err)
	leaves, err := gottree.Leaves()
	tassert(t, err == nil, "%#v", err)
	tassert(t, len(leaves) == 0, "leaves %v", len(leaves))
}

func TestTreeRead(t *testing.T) {
	hs := setup(t, nil)

	// setup
	buf1 := mkbuf("blob1value")
	block1, err := hs.PutBlock("sha256", buf1)
	if err != nil {
		t.Fatal(err)
	}
	buf2 := mkbuf("blob2value")
	block2, err := hs.PutBlock("sha256", buf2)
	if err != nil {
		t.Fatal(err)
	}
	buf3 := mkbuf("blob3value")
	block3, err := hs.PutBlock("sha256", buf3)
	if err != nil {
		t.Fatal(err)
	}

	// put
	tree1, err := hs.PutTree("sha256", block1, block2)
	if err != nil {
		t.Fatal(err)
	}
	if tree1 == nil {
		t.Fatal("tree1 is nil")
	}
	tree2, err := hs.PutTree("sha256", tree1, block3)
	if err != nil {
		t.Fatal(err)
	}
	if tree2 == nil {
		t.Fatal("tree2 is nil")
	}

	expect := []byte("blob1valueblob2valueblob3value")

	// read explicitly
	file, err := OpenWorm(hs, tree2.Path)
	tassert(t, err == nil, "tree2 file %#v err %v", file, err)
	tree2a := Tree{}.New(hs, file)
	gotbuf := make([]byte, 99)
	gotbufn := 0
	for i := 0; i < 99; i++ {
		n, err := tree2a.Read(gotbuf[gotbufn:])
		gotbufn += n
		if err == io.EOF {
			break
		}
		tassert(t, err == nil, "err %#v", err)
	}
	tassert(t, len(expect) == gotbufn, "expect %v got %v", len(expect), gotbufn)
	tassert(t, bytes.Compare(expect, gotbuf[:gotbufn]) == 0, "expect %q got %q", string(expect), string(gotbuf[:gotbufn]))

	// read as stream
	file, err = OpenWorm(hs, tree2.Path)
	tassert(t, err == nil, "tree2 file %#v err %v", file, err)
	tree2b := Tree{}.New(hs, file)
	expectrd := bytes.NewReader(expect)
	ok, err := readercomp.Equal(expectrd, tree2b, 15) // XXX try different sizes
	tassert(t, err == nil, "readercomp.Equal: %v", err)
	tassert(t, ok, "tree.Read mismatch")

	// test seek
	n, err := tree2.Seek(4, io.SeekStart)
	tassert(t, err == nil, "%#v", err)
	tassert(t, n == 4, "%v", n)
	nint, err := tree2.Read(gotbuf[:1])
	tassert(t, err == nil, "%#v", err)
	tassert(t, nint == 1, "%v", nint)
	tassert(t, string(gotbuf[0]) == "1", string(gotbuf[0]))

	// test tell
	pos, err := tree2.Tell()
	tassert(t, err == nil, "%#v", err)
	tassert(t, pos == 5, "pos %v", pos)

	// test size
	size, err := tree2.Size()
	tassert(t, err == nil, "%#v", err)
	tassert(t, size == int64(len(expect)), "size %v", size)
}

func TestTreeVerify(t *testing.T) {
	hs := setup(t, nil)

	block1, err := hs.PutBlock("sha256", mkbuf("blob1value"))
	tassert(t, err == nil, "%v", err)
	block2, err := hs.PutBlock("sha256", mkbuf("blob2value"))
	tassert(t, err == nil, "%v", err)
	tree, err := hs.PutTree("sha256", block1, block2)
	tassert(t, err == nil, "%v", err)

	ok, err := tree.Verify()
	tassert(t, err == nil, "%v", err)
	tassert(t, ok, "tree verify failed: %v", tree)

	// corrupt a block body and make sure Verify notices
	err = os.Chmod(block1.Path.Abs, 0644)
	tassert(t, err == nil, "%v", err)
	err = ioutil.WriteFile(block1.Path.Abs, []byte("block\nEVILvalue0"), 0644)
	tassert(t, err == nil, "%v", err)

	gottree, err := hs.GetTree(tree.Path)
	tassert(t, err == nil, "%v", err)
	ok, err = gottree.Verify()
	tassert(t, err != nil || !ok, "verify missed corrupt block")
}
