/*

Hyperbase is a content-addressable deduplicating store backing a
directory-based chat namespace.  The store ("hyperspace") holds data
streams of arbitrary size; the namespace exposes categories (channels,
users) and items (individual channels or users) as symbolic links.

Vocabulary:

- abspath: absolute path on hard disk, including subdirs
- relpath: path relative to hs.Dir, including subdirs
- canpath: canonical path; relpath without subdirs
- hash: cryptographic hash of a block or tree
- algo: name (string) describing hash algorithm
- subdir: three-character hexadecimal segment of hash
- subdirs: one or more subdir segments inserted in abspath or relpath
	in order to keep directory sizes small; the number of subdirs is fixed
	at hyperspace creation
- block: chunk of data; deduplication atom; stored as file
- tree: list of one or more blocks or trees; stored as file containing
  block or tree canpaths
- rootnode: the top-level tree for an item's journal
- journal: ordered set of one or more blocks; the append-only record
  history of an item
- category: named partition of the namespace (channels, users); stored
  as a directory under space/ and exposed as a symlink at the chat root
- item: named entry within a category (a single channel or user);
  stored as a symlink pointing at the journal's rootnode canpath
- object: block, tree, or item
- record: one journal entry; for channels, a single chat message

*/

package hyperbase
