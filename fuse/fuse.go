// Package fuse mounts a chat namespace as a read-only filesystem:
// categories show up as directories and each item's journal reads as
// a regular file.
package fuse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"

	"github.com/t7a/hyperbase"
)

// XXX init(), caller(), and GetGID() are copies of the same from
// hyperbase.go and all should be moved to a common lib
func init() {
	var debug string
	debug = os.Getenv("DEBUG")
	if debug == "1" {
		log.SetLevel(log.DebugLevel)
	}
	log.SetReportCaller(true)
	formatter := &log.TextFormatter{
		CallerPrettyfier: caller(),
		FieldMap: log.FieldMap{
			log.FieldKeyFile: "caller",
		},
	}
	formatter.TimestampFormat = "15:04:05.999999999"
	log.SetFormatter(formatter)
}

// caller returns string presentation of log caller which is formatted as
// `/path/to/file.go:line_number`. e.g. `/internal/app/api.go:25`
// https://stackoverflow.com/questions/63658002/is-it-possible-to-wrap-logrus-logger-functions-without-losing-the-line-number-pr
func caller() func(*runtime.Frame) (function string, file string) {
	return func(f *runtime.Frame) (function string, file string) {
		p, _ := os.Getwd()
		return "", fmt.Sprintf("%s:%d gid %d", strings.TrimPrefix(f.File, p), f.Line, GetGID())
	}
}

// GetGID returns the goroutine ID of its calling function, for logging purposes.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

type DirNode struct {
	fs.Inode
}

func (r *DirNode) Readdir(ctx context.Context) (stream fs.DirStream, errno syscall.Errno) {
	entries := []fuse.DirEntry{
		{Mode: syscall.S_IFDIR, Name: "."},
		{Mode: syscall.S_IFDIR, Name: ".."},
	}
	for name, child := range r.Children() {
		entry := fuse.DirEntry{Mode: child.Mode(), Name: name}
		entries = append(entries, entry)
	}
	return fs.NewListDirStream(entries), 0
}

type HelloRoot struct {
	DirNode
}

func (r *HelloRoot) OnAdd(ctx context.Context) {
	ch := r.NewPersistentInode(
		ctx, &fs.MemRegularFile{
			Data: []byte("hello"),
			Attr: fuse.Attr{
				Mode: 0644,
			},
		}, fs.StableAttr{Ino: 2})
	r.AddChild("hello.txt", ch, false)
}

func (r *HelloRoot) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0755
	return 0
}

var _ = (fs.NodeGetattrer)((*HelloRoot)(nil))
var _ = (fs.NodeOnAdder)((*HelloRoot)(nil))

func hello(dir string) (server *fuse.Server, err error) {
	defer Return(&err)
	opts := &fs.Options{}
	opts.Debug = true
	server, err = fs.Mount(dir, &HelloRoot{}, opts)
	Ck(err)
	// server.Wait()
	return
}

// root

// nsRoot is the mount root.  Categories come and go at runtime, so we
// list and look them up from the namespace on every call instead of
// building persistent inodes.
type nsRoot struct {
	fs.Inode
	ns *hyperbase.Ns
}

var _ = (fs.NodeReaddirer)((*nsRoot)(nil))
var _ = (fs.NodeLookuper)((*nsRoot)(nil))
var _ = (fs.NodeGetattrer)((*nsRoot)(nil))

func (root *nsRoot) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0755
	return 0
}

func (root *nsRoot) Readdir(ctx context.Context) (stream fs.DirStream, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	entries := []fuse.DirEntry{
		{Mode: syscall.S_IFDIR, Name: "."},
		{Mode: syscall.S_IFDIR, Name: ".."},
	}
	infos, err := ioutil.ReadDir(filepath.Join(root.ns.Hs.Dir, "space"))
	Ck(err)
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		entries = append(entries, fuse.DirEntry{Mode: syscall.S_IFDIR, Name: info.Name()})
	}
	return fs.NewListDirStream(entries), 0
}

func (root *nsRoot) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (child *fs.Inode, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	if !root.ns.CategoryExists(name) {
		return nil, syscall.ENOENT
	}
	child = root.NewInode(
		ctx,
		&categoryNode{ns: root.ns, category: name},
		fs.StableAttr{Mode: syscall.S_IFDIR},
	)
	return child, 0
}

// category

type categoryNode struct {
	fs.Inode
	ns       *hyperbase.Ns
	category string
}

var _ = (fs.NodeReaddirer)((*categoryNode)(nil))
var _ = (fs.NodeLookuper)((*categoryNode)(nil))

func (n *categoryNode) Readdir(ctx context.Context) (stream fs.DirStream, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	entries := []fuse.DirEntry{
		{Mode: syscall.S_IFDIR, Name: "."},
		{Mode: syscall.S_IFDIR, Name: ".."},
	}
	infos, err := ioutil.ReadDir(filepath.Join(n.ns.Hs.Dir, "space", n.category))
	Ck(err)
	for _, info := range infos {
		// items are symlinks on disk but read as regular files here
		entries = append(entries, fuse.DirEntry{Mode: syscall.S_IFREG, Name: info.Name()})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *categoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (child *fs.Inode, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	cpath := n.category + "/" + name
	if !n.ns.ItemExists(cpath) {
		return nil, syscall.ENOENT
	}
	child = n.NewInode(
		ctx,
		&itemNode{ns: n.ns, cpath: cpath},
		fs.StableAttr{Mode: fuse.S_IFREG},
	)
	return child, 0
}

// item

type itemNode struct {
	fs.Inode
	ns    *hyperbase.Ns
	cpath string
	tree  *hyperbase.Tree
}

var _ = (fs.NodeOpener)((*itemNode)(nil))

func (n *itemNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, outflags uint32, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	// disallow writes
	if flags&(syscall.O_RDWR|syscall.O_WRONLY) != 0 {
		return nil, 0, syscall.EROFS
	}

	item, err := n.ns.OpenItem(n.cpath)
	if err != nil {
		return nil, 0, syscall.ENOENT
	}

	// pin the journal rootnode at open time so one reader sees one
	// consistent snapshot even while posts keep arriving
	fh = &itemNode{
		ns:    n.ns,
		cpath: n.cpath,
		tree:  item.RootNode,
	}

	// the journal advances as posts arrive, so don't let the kernel
	// cache file content across opens
	return fh, fuse.FOPEN_DIRECT_IO, fs.OK
}

var _ = (fs.NodeGetattrer)((*itemNode)(nil))

func (n *itemNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) (errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	out.Mode = 0444
	out.Mtime = uint64(time.Now().Unix())

	item, err := n.ns.OpenItem(n.cpath)
	if err != nil {
		return syscall.ENOENT
	}
	size, err := item.RootNode.Size()
	if err != nil {
		log.Errorf("size error: %#v", err)
		return syscall.EIO
	}
	out.Size = uint64(size)
	return 0
}

var _ = (fs.FileReader)((*itemNode)(nil))

func (fh *itemNode) Read(ctx context.Context, buf []byte, offset int64) (res fuse.ReadResult, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	tree := fh.tree

	// seek
	_, err := tree.Seek(offset, io.SeekStart)
	if err != nil {
		log.Errorf("seek error: %#v", err)
		return nil, syscall.EIO
	}

	// read
	nread, err := tree.Read(buf)
	if err == io.EOF {
		if nread == 0 {
			return fuse.ReadResultData(buf[:0]), 0
		}
	} else if err != nil {
		log.Errorf("read error: %#v", err)
		return nil, syscall.EIO
	}

	// XXX use ReadResultFd for zero-copy
	return fuse.ReadResultData(buf[:nread]), 0
}

// server

func Serve(ns *hyperbase.Ns, mnt string) (server *fuse.Server, err error) {
	defer Return(&err)
	opts := &fs.Options{}
	opts.Debug = os.Getenv("DEBUG") == "1"
	// start inode numbers at 2^16
	opts.FirstAutomaticIno = 1 << 16
	server, err = fs.Mount(mnt, &nsRoot{ns: ns}, opts)
	Ck(err)
	server.WaitMount()
	return
}

func msglog(msg string) {
	log.Errorf("unpanic: %v", msg)
}
