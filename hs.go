package hyperbase

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	resticRabin "github.com/restic/chunker"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// Hs is an open hyperspace: the persistent store behind a chat
// namespace. Dir is the base directory. Depth is the number of
// subdirectory levels in the block and tree dirs.  We use
// three-character hexadecimal names for the subdirectories, giving us
// a maximum of 4096 subdirs in a parent dir -- that's a sweet spot.
// Two-character names (such as what git uses under .git/objects) only
// allow for 256 subdirs, which is unnecessarily small.
// Four-character names would give us 65,536 subdirs, which would
// cause performance issues on e.g. ext4.
type Hs struct {
	Dir     string          // base of hyperspace
	Depth   int             // number of subdir levels in block and tree dirs
	Poly    resticRabin.Pol // rabin polynomial for chunking
	MinSize uint            // minimum chunk size
	MaxSize uint            // maximum chunk size
}

// Object is a block or tree addressed by canpath.
type Object interface {
	io.ReadSeeker
	Close() error
	Size() (n int64, err error)
	Tell() (n int64, err error)
	GetPath() *Path
}

// OpenHs loads an existing hyperspace from dir.
func OpenHs(dir string) (hs *Hs, err error) {
	dir = filepath.Clean(dir)

	if !canstat(dir) {
		return nil, fmt.Errorf("cannot open: %s", dir)
	}

	// load config
	buf, err := ioutil.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, &NotHsError{Dir: dir}
	}
	hs = &Hs{}
	err = json.Unmarshal(buf, hs)
	if err != nil {
		return
	}

	return
}

func (hs *Hs) ObjectFromPath(path *Path) (obj Object, err error) {
	defer Return(&err)

	class := path.Class
	switch class {
	case "block":
		file, err := OpenWorm(hs, path)
		Ck(err)
		return Block{}.New(hs, file), nil
	case "tree":
		file, err := OpenWorm(hs, path)
		Ck(err)
		return Tree{}.New(hs, file), nil
	default:
		Assert(false, "unhandled class %s", class)
	}
	return
}

// Create initializes a hyperspace directory and its contents.
// Creation fails if the directory already holds anything; callers
// guard with an existence check before initializing.
func (hs Hs) Create() (out *Hs, err error) {
	defer Return(&err)

	dir := hs.Dir

	// if directory exists, make sure it's empty
	if canstat(dir) {
		var files []os.FileInfo
		files, err = ioutil.ReadDir(dir)
		if len(files) > 0 {
			return nil, &ExistsError{Dir: dir}
		}
		Ck(err)
	}

	// set nesting depth
	if hs.Depth < 1 {
		hs.Depth = 2
	}

	err = mkdir(dir, 0755)
	Ck(err)

	// the block dir is where we store hashed record blocks
	err = mkdir(filepath.Join(dir, "block"), 0755)
	Ck(err)

	// we store merkle tree nodes in tree
	err = mkdir(filepath.Join(dir, "tree"), 0755)
	Ck(err)

	// the space dir holds one subdir per category; items are symlinks
	// in there pointing back into tree
	err = mkdir(filepath.Join(dir, "space"), 0755)
	Ck(err)

	if hs.Poly == 0 {
		hs.Poly, err = resticRabin.RandomPolynomial()
		Ck(err)
	}

	buf, err := json.Marshal(hs)
	Ck(err)
	err = ioutil.WriteFile(filepath.Join(dir, "config.json"), buf, 0644)
	Ck(err)

	return &hs, nil
}

// NotHsError means the directory exists but holds no hyperspace.
type NotHsError struct {
	Dir string
}

func (e *NotHsError) Error() string {
	return fmt.Sprintf("not a hyperspace: %s", e.Dir)
}

// ExistsError means initialization was attempted over existing state.
type ExistsError struct {
	Dir string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("directory not empty: %s", e.Dir)
}

func (hs *Hs) tmpFile() (fh *os.File, err error) {
	dir := hs.Dir
	fh, err = ioutil.TempFile(dir, "*")
	if err != nil {
		return
	}
	return
}

// GetBlock retrieves an entire block into buf by reading its file contents.
func (hs *Hs) GetBlock(path *Path) (buf []byte, err error) {
	file, err := OpenWorm(hs, path)
	if err != nil {
		return nil, err
	}
	return file.ReadAll()
}

// Rm deletes the file associated with a path of any format and returns an error
// if the file doesn't exist.
func (hs *Hs) Rm(path *Path) (err error) {
	err = os.Remove(path.Abs)
	if err != nil {
		return err
	}
	return
}

// PutStream reads blocks from rd, creates a merkle tree with those
// blocks as leaf nodes, and returns the root node of the new tree.
// Chunk boundaries come from the rabin fingerprint, so attachments
// deduplicate against earlier uploads.
func (hs *Hs) PutStream(algo string, rd io.Reader) (rootnode *Tree, err error) {
	// set chunker parameters
	chunker, err := rabin{Poly: hs.Poly, MinSize: hs.MinSize, MaxSize: hs.MaxSize}.Init()
	if err != nil {
		return
	}

	chunker.Start(rd)

	// feed rd into chunker until rd hits EOF
	// XXX buffer size really only needs to be slightly larger than the
	// max chunk size
	buf := make([]byte, chunker.MaxSize+1)
	var oldtree *Tree
	for {
		chunk, err := chunker.Next(buf)
		if errors.Cause(err) == io.EOF {
			log.Debugf("EOF")
			break
		}
		if err != nil {
			return nil, err
		}

		newblock, err := hs.PutBlock(algo, chunk.Data)
		if err != nil {
			return nil, err
		}

		log.Debugf("newblock %v", newblock)
		if oldtree == nil {
			// we're just starting the tree
			rootnode, err = hs.PutTree(algo, newblock)
			if err != nil {
				return nil, err
			}
		} else {
			// add the next node
			rootnode, err = hs.PutTree(algo, oldtree, newblock)
			if err != nil {
				return nil, err
			}
		}
		log.Debugf("rootnode %v", rootnode)
		oldtree = rootnode
	}
	log.Debugf("oldtree %v", oldtree)

	return
}

// PutBlock hashes the block, stores the block in a file named after the hash,
// and returns the block object.
func (hs *Hs) PutBlock(algo string, buf []byte) (b *Block, err error) {
	defer Return(&err)

	Assert(hs != nil, "hs is nil")

	file, err := CreateWorm(hs, "block", algo)
	Ck(err)
	b = Block{}.New(hs, file)

	var n int
	n, err = b.Write(buf)
	Ck(err)
	Assert(n == len(buf), "short write")
	err = b.Close()
	Ck(err)

	return
}

// CreateCategory ensures the category's directory exists under space/.
func (hs *Hs) CreateCategory(name string) (err error) {
	defer Return(&err)
	ErrnoIf(!okName(name), syscall.EINVAL, "bad category name: %q", name)
	err = mkdir(filepath.Join(hs.Dir, "space", name), 0755)
	Ck(err)
	return
}

// PutItem ensures an item exists in category: an empty journal tree is
// stored and the item symlink is created if absent.  Creation is a
// single symlink call, so two racing callers cannot corrupt an item;
// the loser just opens what the winner linked.
func (hs *Hs) PutItem(algo, category, name string) (item *Item, err error) {
	defer Return(&err)
	ErrnoIf(!okName(category), syscall.EINVAL, "bad category name: %q", category)
	ErrnoIf(!okName(name), syscall.EINVAL, "bad item name: %q", name)

	catdir := filepath.Join(hs.Dir, "space", category)
	ErrnoIf(!canstat(catdir), syscall.ENOENT, "no such category: %s", category)

	// the empty journal: a tree with no entries
	empty, err := hs.PutTree(algo)
	Ck(err)

	src := filepath.Join("..", "..", empty.Path.Rel)
	linkabspath := filepath.Join(catdir, name)
	err = os.Symlink(src, linkabspath)
	if err != nil && !os.IsExist(err) {
		return nil, err
	}

	return hs.OpenItem(category, name)
}

// OpenItem returns an existing Item object given its category and name.
func (hs *Hs) OpenItem(category, name string) (item *Item, err error) {
	defer Return(&err)
	linkabspath := filepath.Join(hs.Dir, "space", category, name)
	treeabspath, err := filepath.EvalSymlinks(linkabspath)
	if err != nil {
		return
	}
	treepath, err := Path{}.New(hs, treeabspath)
	Ck(err)
	log.Debugf("treeabspath %#v treepath %#v", treeabspath, treepath)
	rootnode, err := hs.GetTree(treepath)
	if err != nil {
		return
	}
	Assert(rootnode != nil, "rootnode is nil")
	log.Debugf("OpenItem rootnode %#v", rootnode)
	item, err = Item{}.New(hs, category, name, rootnode)
	Ck(err)
	return
}

// PutTree takes zero or more child nodes, stores their relpaths in a
// file under tree/, and returns a pointer to a Tree object.  With no
// children the result is the empty journal tree.
func (hs *Hs) PutTree(algo string, children ...Object) (tree *Tree, err error) {
	defer Return(&err)

	Assert(hs != nil, "hs is nil")

	file, err := CreateWorm(hs, "tree", algo)
	Ck(err)
	tree = Tree{}.New(hs, file)

	// populate the entries field (this is a write of a new tree, so
	// we can't call loadEntries() here)
	tree._entries = children

	// concatenate entry paths together
	txt, err := tree.Txt()
	Ck(err)
	buf := []byte(txt)

	var n int
	n, err = tree.Write(buf)
	Ck(err)
	Assert(n == len(buf), "short write")
	err = tree.Close()
	Ck(err)

	return
}

// GetTree takes a tree path and returns a Tree struct
func (hs *Hs) GetTree(path *Path) (tree *Tree, err error) {
	return hs.getTree(path, true)
}

func (hs *Hs) getTree(path *Path, verify bool) (tree *Tree, err error) {
	defer Return(&err)

	file, err := OpenWorm(hs, path)
	Ck(err)
	defer file.Close()

	tree = Tree{}.New(hs, file)

	err = tree.loadEntries()
	Ck(err)

	return
}

// okName reports whether name is usable as a category or item name:
// a single non-empty path component that can't escape the namespace.
func okName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, c := range name {
		if c == '/' || c == 0 {
			return false
		}
	}
	return true
}
