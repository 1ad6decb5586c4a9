// Package chat is the live chat runtime: a daemon that owns a chat
// namespace, serves clients over a UNIX domain socket in the chat
// root, and exposes filesystem events so bots can follow traffic.
package chat

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/stevegt/debugpipe"
	. "github.com/stevegt/goadapt"
	"github.com/vmihailenco/msgpack"

	"github.com/t7a/hyperbase"
)

// Chat is an open chat runtime.  Events carries raw fsnotify events
// for the hyperspace category dirs; an item relink (a post) shows up
// there, which is how bots notice traffic without polling.
type Chat struct {
	Dir      string
	Ns       *hyperbase.Ns
	Events   chan fsnotify.Event
	watcher  *fsnotify.Watcher
	dp       *Dispatcher
	mu       sync.Mutex
	rooms    map[string]*sync.Mutex
	done     chan struct{}
	exitOnce sync.Once
	listener net.Listener
}

// Create initializes a bare chat root (no categories) and opens it.
func Create(dir string) (c *Chat, err error) {
	defer Return(&err)
	_, err = hyperbase.Ns{Dir: dir}.Create()
	Ck(err)
	return Open(dir)
}

// Open loads an existing chat root, starts the category watcher, and
// registers the built-in operation handlers.
func Open(dir string) (c *Chat, err error) {
	defer Return(&err)

	ns, err := hyperbase.OpenNs(dir, "")
	Ck(err)

	c = &Chat{Dir: dir, Ns: ns}
	c.rooms = make(map[string]*sync.Mutex)
	c.done = make(chan struct{})

	// watch the space dir and each category dir
	c.watcher, err = fsnotify.NewWatcher()
	Ck(err)
	c.Events = c.watcher.Events
	spacedir := filepath.Join(ns.Hs.Dir, "space")
	err = c.watcher.Add(spacedir)
	Ck(err)
	cats, err := ioutil.ReadDir(spacedir)
	Ck(err)
	for _, cat := range cats {
		if !cat.IsDir() {
			continue
		}
		err = c.watcher.Add(filepath.Join(spacedir, cat.Name()))
		Ck(err)
	}

	c.dp = NewDispatcher()
	c.dp.Register(c.post, OpPost)
	c.dp.Register(c.history, OpHistory)
	c.dp.Register(c.ls, OpLs)
	c.dp.Register(c.mkcat, OpMkcat)
	c.dp.Register(c.add, OpAdd)
	c.dp.Register(c.put, OpPut)
	c.dp.Register(c.cat, OpCat)
	c.dp.Register(c.exit, OpExit)

	return c, nil
}

// room returns the mutex serializing in-process access to one item.
// The storage layer's flock covers other processes.
func (c *Chat) room(cpath string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.rooms[cpath]
	if !ok {
		m = &sync.Mutex{}
		c.rooms[cpath] = m
	}
	return m
}

// Listen on a new UNIX domain socket in the chat root
// https://eli.thegreenplace.net/2019/unix-domain-sockets-in-go/
func (c *Chat) Listen() (listener net.Listener, err error) {
	listener, err = net.Listen("unix", c.Ns.SockPath())
	Ck(err)
	c.listener = listener
	return
}

// Dial connects to the daemon socket of the chat root at dir.
func Dial(dir string) (conn net.Conn, err error) {
	conn, err = net.Dial("unix", filepath.Join(dir, hyperbase.SockName))
	return
}

// Connect to this chat root's daemon socket.
func (c *Chat) Connect() (conn io.ReadWriteCloser, err error) {
	return Dial(c.Dir)
}

// Serve accepts client connections on the chat root socket until
// Shutdown closes the listener.
func (c *Chat) Serve() (err error) {
	defer Return(&err)

	listener, err := c.Listen()
	Ck(err)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				// Accept fails when Shutdown closes the listener
				log.Debugf("accept: %v", err)
				return
			}
			go c.handle(conn)
		}
	}()
	return
}

// handle a single client connection: msgpack frames in, msgpack
// frames out, one Response per Request.
func (c *Chat) handle(conn net.Conn) {
	defer conn.Close()
	decoder := msgpack.NewDecoder(conn)
	encoder := msgpack.NewEncoder(conn)
	for {
		var req Request
		err := decoder.Decode(&req)
		if err != nil {
			if err != io.EOF {
				log.Debugf("decode: %v", err)
			}
			return
		}
		log.Debugf("request %#v", req)

		res, err := c.dp.Dispatch(&req)
		if err != nil {
			if res == nil {
				res = &Response{Op: req.Op}
			}
			res.Status = 1
			res.Error = err.Error()
		} else if res == nil {
			res = &Response{Op: req.Op, Status: 1,
				Error: fmt.Sprintf("unknown op: %s", req.Op)}
		}

		err = encoder.Encode(res)
		if err != nil {
			log.Debugf("encode: %v", err)
			return
		}
	}
}

// Wait blocks until an exit request arrives.
func (c *Chat) Wait() {
	<-c.done
}

// Shutdown releases the socket and the watcher.  Safe to call whether
// or not Serve ever ran.
func (c *Chat) Shutdown() {
	c.exitOnce.Do(func() { close(c.done) })
	if c.listener != nil {
		c.listener.Close()
	}
	if c.watcher != nil {
		c.watcher.Close()
	}
}

func (c *Chat) post(req *Request) (res *Response, err error) {
	defer Return(&err)
	m := c.room(req.Path)
	m.Lock()
	defer m.Unlock()
	text := strings.Join(req.Args, " ")
	_, err = c.Ns.Post(req.Path, req.Nick, text)
	Ck(err)
	return &Response{Op: req.Op}, nil
}

func (c *Chat) history(req *Request) (res *Response, err error) {
	defer Return(&err)
	records, err := c.Ns.History(req.Path)
	Ck(err)
	return &Response{Op: req.Op, Lines: records}, nil
}

func (c *Chat) ls(req *Request) (res *Response, err error) {
	defer Return(&err)
	var long, recursive bool
	for _, arg := range req.Args {
		switch arg {
		case "-l":
			long = true
		case "-r":
			recursive = true
		}
	}
	lines, err := c.Ns.List(long, recursive)
	Ck(err)
	return &Response{Op: req.Op, Lines: lines}, nil
}

func (c *Chat) mkcat(req *Request) (res *Response, err error) {
	defer Return(&err)
	err = c.Ns.CreateCategory(req.Path)
	Ck(err)
	// watch the new category dir so bots see its traffic
	werr := c.watcher.Add(filepath.Join(c.Ns.Hs.Dir, "space", req.Path))
	if werr != nil {
		log.Debugf("watch %s: %v", req.Path, werr)
	}
	return &Response{Op: req.Op}, nil
}

func (c *Chat) add(req *Request) (res *Response, err error) {
	defer Return(&err)
	item, err := c.Ns.AddItem(req.Path)
	Ck(err)
	return &Response{Op: req.Op, Lines: []string{item.RootNode.Path.Canon}}, nil
}

// put stores req.Data as a chunked attachment and links the item at
// req.Path to it, replacing the item's previous content.
func (c *Chat) put(req *Request) (res *Response, err error) {
	defer Return(&err)
	ErrnoIf(len(req.Data) == 0, syscall.EINVAL, "empty attachment: %s", req.Path)
	m := c.room(req.Path)
	m.Lock()
	defer m.Unlock()
	category, name, err := hyperbase.SplitCpath(req.Path)
	Ck(err)

	fd, err := c.Ns.Hs.ExLock(req.Path)
	Ck(err)
	defer c.Ns.Hs.Unlock(fd)

	var rd io.Reader = bytes.NewReader(req.Data)
	if os.Getenv("DEBUG") == "1" {
		pr, pw := debugpipe.Pipe()
		go func() {
			_, cerr := io.Copy(pw, bytes.NewReader(req.Data))
			if cerr != nil {
				log.Debugf("debugpipe copy: %v", cerr)
			}
			pw.Close()
		}()
		rd = pr
	}
	rootnode, err := c.Ns.Hs.PutStream(hyperbase.DefaultAlgo, rd)
	Ck(err)
	_, err = rootnode.LinkItem(category, name)
	Ck(err)
	return &Response{Op: req.Op, Lines: []string{rootnode.Path.Canon}}, nil
}

func (c *Chat) cat(req *Request) (res *Response, err error) {
	defer Return(&err)
	item, err := c.Ns.OpenItem(req.Path)
	Ck(err)
	buf, err := ioutil.ReadAll(item)
	Ck(err)
	return &Response{Op: req.Op, Data: buf}, nil
}

func (c *Chat) exit(req *Request) (res *Response, err error) {
	c.exitOnce.Do(func() { close(c.done) })
	return &Response{Op: req.Op}, nil
}

// PipeFd takes an io.Reader and returns the read end of a UNIX
// in-memory pipe -- see `man 2 pipe`.  We spawn a goroutine here to
// read from the io.Reader and write to the write end of the pipe.
func PipeFd(rd io.Reader) (fd uintptr, status chan error, err error) {
	defer Return(&err)
	rfile, wfile, err := os.Pipe()
	Ck(err)
	status = make(chan error)
	go func() {
		_, err := io.Copy(wfile, rd)
		wfile.Close()
		status <- err
	}()
	fd = rfile.Fd()
	return
}
