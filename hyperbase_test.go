package hyperbase

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kr/pretty"
	. "github.com/stevegt/goadapt"
)

const testHsDirPrefix = "hyperbase"

func asString(input interface{}) (out string) {
	out = fmt.Sprintf("%v", input)
	return
}

func deepEqual(a, b interface{}) bool {
	return pretty.Sprint(a) == pretty.Sprint(b)
}

func mkbuf(s string) []byte {
	tmp := []byte(s)
	return tmp
}

// an example of how an Object might be used
func objectExample(t *testing.T, o Object) {

	abspath := o.GetPath().Abs
	tassert(t, len(abspath) > 0, "path len %v", len(abspath))

	size, err := o.Size()
	tassert(t, err == nil, "Size() size %d err %v", size, err)
}

func objs2str(objects []Object) (out string) {
	for _, obj := range objects {
		line := string(obj.GetPath().Canon)
		line = strings.TrimSpace(line) + "\n"
		out += line
	}
	return
}

func pathEqual(a, b *Path) bool {
	return a.Rel == b.Rel && a.Canon == b.Canon
}

func pathFromBuf(hs *Hs, class string, algo string, buf []byte) (path *Path, err error) {
	b := append([]byte(class+"\n"), buf...)
	binhash, err := Hash(algo, b)
	if err != nil {
		return
	}
	hash := bin2hex(binhash)
	path, err = Path{}.New(hs, filepath.Join(class, algo, hash))
	Ck(err)
	return
}

func setup(t *testing.T, hs *Hs) *Hs {
	// XXX test other depths

	var err error
	var dir string

	if hs == nil {
		hs = &Hs{}
	}
	Assert(hs.Dir == "")

	debug := os.Getenv("DEBUG")
	if debug == "1" {
		dir, err = ioutil.TempDir("", testHsDirPrefix)
		Ck(err)
		fmt.Println(dir)
		// no cleanup
	} else {
		dir = t.TempDir()
		// automatically cleaned up
	}
	hs.Dir = dir

	hs2, err := hs.Create()
	Ck(err)
	hs2, err = OpenHs(dir)
	Ck(err)
	tassert(t, hs2 != nil, "hs is nil")

	return hs2
}

// test boolean condition
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper() // cause file:line info to show caller
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func TestGetGID(t *testing.T) {
	n := GetGID()
	if n == 0 {
		t.Fatalf("oh no n is 0")
	}
}

func TestHash(t *testing.T) {
	val := mkbuf("somevalue")
	binhash, err := Hash("sha256", val)
	if err != nil {
		t.Fatal(err)
	}
	hexhash := bin2hex(binhash)
	expect := "70a524688ced8e45d26776fd4dc56410725b566cd840c044546ab30c4b499342"
	tassert(t, expect == hexhash, "expected %q got %q", expect, hexhash)

	binhash, err = Hash("sha512", val)
	if err != nil {
		t.Fatal(err)
	}
	hexhash = bin2hex(binhash)
	expect = "8e77e71abe427ced1c93d883aeeddfa57ce39b787f229caaf176fdd71353f3466d340a2cdb5a219c429c53ad37f2f144c7ce01b985b6b33e397c4b8fd1433cc3"
	tassert(t, expect == hexhash, "expected %q got %q", expect, hexhash)

	_, err = Hash("foobar", val)
	if err == nil {
		t.Fatal("expected error, received none")
	}
}

func TestMkdir(t *testing.T) {
	// a path under a regular file can't be created even by root
	fn := filepath.Join(t.TempDir(), "plainfile")
	err := ioutil.WriteFile(fn, []byte("x\n"), 0644)
	if err != nil {
		t.Fatal(err)
	}
	err = mkdir(filepath.Join(fn, "subdir"), 0755)
	if err == nil {
		t.Fatal("expected error, got none")
	}
}
