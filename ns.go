package hyperbase

import (
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// Ns is the chat namespace: a root directory owning a hyperspace.
// Categories live as directories under the hyperspace's space/ dir and
// are exposed as symlinks at the chat root, so `ls <root>/channels`
// works with plain UNIX tools.  All paths are composed from Dir; the
// process working directory is never consulted or changed.
type Ns struct {
	Dir   string // chat root
	HsDir string // hyperspace directory name under Dir
	Hs    *Hs
}

// Create initializes the chat root and its hyperspace.  The root
// directory is created if missing; initializing over an existing
// hyperspace fails with ExistsError, so callers guard with
// HyperspaceExists().
func (ns Ns) Create() (out *Ns, err error) {
	defer Return(&err)
	if ns.HsDir == "" {
		ns.HsDir = DefaultHyperspace
	}
	err = mkdir(ns.Dir, 0755)
	Ck(err)
	// plain return here so callers can still see ExistsError
	hs, err := Hs{Dir: filepath.Join(ns.Dir, ns.HsDir)}.Create()
	if err != nil {
		return nil, err
	}
	ns.Hs = hs
	return &ns, nil
}

// OpenNs loads an existing namespace rooted at dir.
func OpenNs(dir, hsdir string) (ns *Ns, err error) {
	defer Return(&err)
	if hsdir == "" {
		hsdir = DefaultHyperspace
	}
	hs, err := OpenHs(filepath.Join(dir, hsdir))
	Ck(err)
	ns = &Ns{Dir: dir, HsDir: hsdir, Hs: hs}
	return
}

// HsPath returns the absolute hyperspace path.
func (ns *Ns) HsPath() string {
	return filepath.Join(ns.Dir, ns.HsDir)
}

// HyperspaceExists tests for the hyperspace by presence of its
// directory under the chat root.
func (ns *Ns) HyperspaceExists() bool {
	return canstat(ns.HsPath())
}

// CreateCategory ensures the category directory exists in the
// hyperspace and that the chat root carries a symlink to it.  The
// symlink call is the atomic create-if-absent: EEXIST means another
// actor (or an earlier run) already created it, which is success.
func (ns *Ns) CreateCategory(name string) (err error) {
	defer Return(&err)
	ErrnoIf(name == ns.HsDir || name == SockName, syscall.EINVAL,
		"reserved name: %q", name)
	err = ns.Hs.CreateCategory(name)
	Ck(err)
	src := filepath.Join(ns.HsDir, "space", name)
	linkpath := filepath.Join(ns.Dir, name)
	err = os.Symlink(src, linkpath)
	if err != nil && !os.IsExist(err) {
		return err
	}
	log.Debugf("category %s -> %s", linkpath, src)
	return nil
}

// AddItem ensures the item named by cpath ("category/item") exists
// with an empty journal.  EEXIST is success; an existing journal is
// never touched.
func (ns *Ns) AddItem(cpath string) (item *Item, err error) {
	defer Return(&err)
	category, name, err := SplitCpath(cpath)
	Ck(err)
	item, err = ns.Hs.PutItem(DefaultAlgo, category, name)
	Ck(err)
	return
}

// CategoryExists reports whether the category's root symlink exists.
func (ns *Ns) CategoryExists(name string) bool {
	return canlstat(filepath.Join(ns.Dir, name))
}

// ItemExists reports whether the item's symlink exists.
func (ns *Ns) ItemExists(cpath string) bool {
	category, name, err := SplitCpath(cpath)
	if err != nil {
		return false
	}
	return canlstat(filepath.Join(ns.Hs.Dir, "space", category, name))
}

// OpenItem opens the item named by cpath.
func (ns *Ns) OpenItem(cpath string) (item *Item, err error) {
	defer Return(&err)
	category, name, err := SplitCpath(cpath)
	Ck(err)
	item, err = ns.Hs.OpenItem(category, name)
	Ck(err)
	return
}

// Post appends one record to the item's journal under the item's
// exclusive lock.  The record is a single text line:
// timestamp, nick, and message text separated by tabs.
func (ns *Ns) Post(cpath, nick, text string) (item *Item, err error) {
	defer Return(&err)
	// tabs and newlines in the nick would break record framing
	ErrnoIf(nick == "" || strings.ContainsAny(nick, "\t\n"), syscall.EINVAL,
		"bad nick: %q", nick)

	fd, err := ns.Hs.ExLock(cpath)
	Ck(err)
	defer ns.Hs.Unlock(fd)

	item, err = ns.OpenItem(cpath)
	Ck(err)
	rec := fmt.Sprintf("%s\t%s\t%s\n",
		time.Now().UTC().Format(time.RFC3339Nano), nick, text)
	item, err = item.Append(DefaultAlgo, []byte(rec))
	Ck(err)
	return
}

// History returns the item's journal records in order.  Each journal
// block is one record, so records survive embedded newlines.
func (ns *Ns) History(cpath string) (records []string, err error) {
	defer Return(&err)
	item, err := ns.OpenItem(cpath)
	Ck(err)
	objs, err := item.Ls(false)
	Ck(err)
	for _, obj := range objs {
		buf, err := ns.Hs.GetBlock(obj.GetPath())
		Ck(err)
		records = append(records, strings.TrimRight(string(buf), "\n"))
	}
	return
}

// List enumerates the namespace for display: categories, and with
// recursive also their items.  Long format appends the symlink target
// -- the hyperspace-relative path for categories, the journal rootnode
// canpath for items.  List never modifies state.
func (ns *Ns) List(long, recursive bool) (lines []string, err error) {
	defer Return(&err)

	spacedir := filepath.Join(ns.Hs.Dir, "space")
	cats, err := ioutil.ReadDir(spacedir)
	Ck(err)

	for _, cat := range cats {
		if !cat.IsDir() {
			continue
		}
		if long {
			lines = append(lines, fmt.Sprintf("%s -> %s",
				cat.Name(), filepath.Join(ns.HsDir, "space", cat.Name())))
		} else {
			lines = append(lines, cat.Name())
		}
		if !recursive {
			continue
		}
		catdir := filepath.Join(spacedir, cat.Name())
		items, err := ioutil.ReadDir(catdir)
		Ck(err)
		for _, fi := range items {
			label := cat.Name() + "/" + fi.Name()
			if !long {
				lines = append(lines, label)
				continue
			}
			target, err := os.Readlink(filepath.Join(catdir, fi.Name()))
			Ck(err)
			path, err := Path{}.New(ns.Hs, filepath.Join(catdir, target))
			Ck(err)
			lines = append(lines, fmt.Sprintf("%s -> %s", label, path.Canon))
		}
	}
	return
}

// SockPath returns the daemon socket path in the chat root.
func (ns *Ns) SockPath() string {
	return filepath.Join(ns.Dir, SockName)
}

// SockActive reports whether a live daemon is listening on the chat
// root's socket.  A stale socket file with no listener counts as
// inactive.
func (ns *Ns) SockActive() bool {
	if !canstat(ns.SockPath()) {
		return false
	}
	conn, err := net.DialTimeout("unix", ns.SockPath(), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// SplitCpath splits "category/item" into its two parts.
func SplitCpath(cpath string) (category, name string, err error) {
	defer Return(&err)
	parts := strings.Split(cpath, "/")
	ErrnoIf(len(parts) != 2, syscall.EINVAL, "want category/item: %q", cpath)
	category = parts[0]
	name = parts[1]
	ErrnoIf(!okName(category), syscall.EINVAL, "bad category name: %q", category)
	ErrnoIf(!okName(name), syscall.EINVAL, "bad item name: %q", name)
	return
}
