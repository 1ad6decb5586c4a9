package hyperbase

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// Tree is a vertex in a Merkle tree. Entries point at leaves or other
// trees.  An item's journal is a left-leaning tree of record blocks.
type Tree struct {
	Hs *Hs
	*Worm
	_entries    []Object
	_leaves     []Object
	currentLeaf int64
}

func (tree Tree) New(hs *Hs, file *Worm) *Tree {
	tree.Hs = hs
	tree.Worm = file
	return &tree
}

func (tree *Tree) Entries() []Object {
	if len(tree._entries) == 0 {
		err := tree.loadEntries()
		// we might panic here
		// it's up to callers to recover() if they want to continue operation
		Ck(err)
	}
	return tree._entries
}

// AppendBlock puts a block in the store, appends it to the tree as a
// new leaf node, and returns the new root node.  This is the journal
// append primitive: each chat record lands as one leaf.
func (tree *Tree) AppendBlock(algo string, buf []byte) (newrootnode *Tree, err error) {
	oldrootnode := tree

	// put block
	block, err := tree.Hs.PutBlock(algo, buf)
	if err != nil {
		return
	}

	// put tree for new root of merkle tree
	newrootnode, err = tree.Hs.PutTree(algo, oldrootnode, block)
	if err != nil {
		return
	}
	return
}

func (tree *Tree) GetPath() *Path {
	return tree.Path
}

func (tree *Tree) Leaves() (leaves []Object, err error) {
	defer Return(&err)
	if len(tree._leaves) == 0 {
		tree._leaves, err = tree.traverse(false)
		Ck(err)
	}
	return tree._leaves, nil
}

// LinkItem makes a symlink at space/category/name pointing at tree,
// and returns the resulting item object.  The link target is relative
// so the hyperspace stays relocatable.
func (tree *Tree) LinkItem(category, name string) (item *Item, err error) {
	defer Return(&err)
	item, err = Item{}.New(tree.Hs, category, name, tree)
	Ck(err)
	// item links live two levels below hs.Dir
	src := filepath.Join("..", "..", tree.Path.Rel)
	linkabspath := filepath.Join(tree.Hs.Dir, "space", category, name)
	log.Debugf("linkabspath %#v", linkabspath)
	err = renameio.Symlink(src, linkabspath)
	if err != nil {
		return
	}
	return
}

func (tree *Tree) loadEntries() (err error) {
	defer Return(&err)

	Assert(tree.Worm != nil)
	Assert(tree.Worm.Path != nil)
	if tree.Worm.Path.Abs == "" {
		return
	}
	file := tree.Worm
	scanner := bufio.NewScanner(file)
	var entries []Object
	for scanner.Scan() {
		buf := scanner.Bytes()
		line := string(buf)
		line = strings.TrimSpace(line)
		path, err := Path{}.New(tree.Hs, line)
		Ck(err)
		entry, err := tree.Hs.ObjectFromPath(path)
		Ck(err)
		log.Debugf("entry %#v", entry)
		entries = append(entries, entry)
	}
	err = scanner.Err()
	Ck(err, "%v: %q", err, file.Path.Abs)

	tree._entries = entries

	return
}

// Read fills buf with the next chunk of data from tree's leaf nodes.
func (tree *Tree) Read(buf []byte) (n int, err error) {
	defer Return(&err)

	leaves, err := tree.Leaves()
	Ck(err)

	for {
		if tree.currentLeaf >= int64(len(leaves)) {
			log.Debugf("tree.Read() returning 0, io.EOF")
			return 0, io.EOF
		}

		obj := (leaves)[tree.currentLeaf]
		n, err = obj.Read(buf)
		if errors.Cause(err) == io.EOF {
			// go's finalizer might close files for us when obj goes
			// out of scope, and since this was a read-only file
			// anyway, don't check err after obj.Close()
			obj.Close()
			Assert(n == 0)
			tree.currentLeaf++
			log.Debugf("tree.Read() advancing to leaf %v", tree.currentLeaf)
			continue
		}
		Ck(err)
		break
	}

	return
}

func (tree *Tree) Rewind() error {
	tree.currentLeaf = 0
	tree._entries = []Object{}
	return nil
}

// Seek sets the offset for the next Read on tree to offset,
// interpreted according to whence: 0 means relative to the origin of
// the journal, 1 means relative to the current offset, and 2 means
// relative to the end.  It returns the new offset and an error, if
// any.
func (tree *Tree) Seek(offset int64, whence int) (newOffset int64, err error) {
	defer Return(&err)

	var pos int64

	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		n, err := tree.Tell()
		Ck(err)
		pos = n + offset
	case io.SeekEnd:
		n, err := tree.Size()
		Ck(err)
		pos = n + offset
	}

	var total int64
	leaves, err := tree.Leaves()
	Ck(err)
	for i, leaf := range leaves {
		size, err := leaf.Size()
		Ck(err)
		// add up all leaf sizes until we pass pos
		newtotal := total + size
		if newtotal >= pos {
			// seek in last leaf
			leafPos := pos - total
			_, err := leaf.Seek(leafPos, io.SeekStart)
			Ck(err)
			tree.currentLeaf = int64(i)
			break
		}
		total = newtotal
	}

	return pos, nil
}

func (tree *Tree) Size() (total int64, err error) {
	defer Return(&err)
	leaves, err := tree.Leaves()
	Ck(err)
	for _, leaf := range leaves {
		size, err := leaf.Size()
		Ck(err)
		total += size
	}
	return
}

// Tell returns the current seek position in the tree: the sizes of
// all leaves before the current one, plus the position within it.
func (tree *Tree) Tell() (n int64, err error) {
	defer Return(&err)
	leaves, err := tree.Leaves()
	Ck(err)
	for i := int64(0); i < tree.currentLeaf && i < int64(len(leaves)); i++ {
		size, err := leaves[i].Size()
		Ck(err)
		n += size
	}
	if tree.currentLeaf < int64(len(leaves)) {
		pos, err := leaves[tree.currentLeaf].Tell()
		Ck(err)
		n += pos
	}
	return
}

// Txt returns the concatenated tree entries
func (tree *Tree) Txt() (out string, err error) {
	defer Return(&err)
	for _, entry := range tree.Entries() {
		out += strings.TrimSpace(entry.GetPath().Canon) + "\n"
	}
	return
}

// Verify hashes the tree content and compares it to its address,
// recursing through child trees.
func (tree *Tree) Verify() (ok bool, err error) {
	defer Return(&err)
	objects, err := tree.traverse(true)
	Ck(err)
	for _, obj := range objects {
		switch child := obj.(type) {
		case *Block:
			path := child.Path
			content, err := child.Hs.GetBlock(path)
			Ck(err)
			// hash content
			content = append([]byte(path.header()), content...)
			binhash, err := Hash(path.Algo, content)
			Ck(err)
			// compare hash with path.Hash
			hex := bin2hex(binhash)
			Assert(path.Hash == hex)
		case *Tree:
			path := child.Path
			log.Debugf("child %#v", child)
			_, err := tree.Hs.getTree(path, true)
			Ck(err)
		default:
			panic(fmt.Sprintf("unhandled type %T", child))
		}
	}
	return true, nil
}

// traverse recurses down the tree returning leaves or optionally all nodes
func (tree *Tree) traverse(all bool) (objects []Object, err error) {
	defer Return(&err)

	if tree.Worm == nil {
		file, err := OpenWorm(tree.Hs, tree.Path)
		Ck(err)
		tree.Worm = file
	}

	if all {
		objects = append(objects, tree)
	}

	log.Debugf("traverse tree %#v", tree)
	for _, obj := range tree.Entries() {
		log.Debugf("traverse obj %#v", obj)
		switch child := obj.(type) {
		case *Tree:
			childobjs, err := child.traverse(all)
			if err != nil {
				return nil, err
			}
			objects = append(objects, childobjs...)
		case *Block:
			objects = append(objects, obj)
		default:
			panic(fmt.Sprintf("unhandled type %T", child))
		}
	}

	return
}
