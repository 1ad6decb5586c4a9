package hyperbase

import (
	"path/filepath"

	"github.com/google/renameio"
	. "github.com/stevegt/goadapt"
)

// Item is a named entry within a category: a single channel or user.
// The item's state is an append-only journal of records; on disk the
// item is a symlink at space/category/name pointing at the journal's
// rootnode.  Item implements io.Reader over the journal content.
type Item struct {
	Hs       *Hs
	RootNode *Tree
	Category string
	Name     string
	Path     *Path
}

func (item Item) New(hs *Hs, category, name string, rootnode *Tree) (out *Item, err error) {
	defer Return(&err)
	item.Hs = hs
	item.Category = category
	item.Name = name
	item.RootNode = rootnode
	linkrelpath := filepath.Join("space", category, name)
	path, err := Path{}.New(hs, linkrelpath)
	Ck(err)
	item.Path = path
	return &item, nil
}

// Label returns the category-qualified item name, e.g. "channels/general".
func (item *Item) Label() string {
	return item.Category + "/" + item.Name
}

// Append puts a record block in the store, appends it to the journal's
// Merkle tree as a new leaf node, and then rewrites the item's symlink
// to point at the new tree root.  The rewrite is atomic; readers see
// either the old or the new journal, never a partial one.
func (item *Item) Append(algo string, buf []byte) (newitem *Item, err error) {
	defer Return(&err)
	oldrootnode := item.RootNode
	newrootnode, err := oldrootnode.AppendBlock(algo, buf)
	if err != nil {
		return
	}

	// rewrite symlink
	treerel := filepath.Join("..", "..", newrootnode.Path.Rel)
	linkabs := filepath.Join(item.Hs.Dir, item.Path.Canon)
	err = renameio.Symlink(treerel, linkabs)
	if err != nil {
		return
	}
	newitem, err = Item{}.New(item.Hs, item.Category, item.Name, newrootnode)
	Ck(err)
	return
}

func (item *Item) Read(buf []byte) (n int, err error) {
	return item.RootNode.Read(buf)
}

func (item *Item) Rewind() error {
	return item.RootNode.Rewind()
}

// Ls lists all of the leaf nodes in an item's journal and optionally
// both leaf and inner nodes.
func (item *Item) Ls(all bool) (objects []Object, err error) {
	return item.RootNode.traverse(all)
}
