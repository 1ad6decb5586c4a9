package main

import (
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack"

	hb "github.com/t7a/hyperbase"
	"github.com/t7a/hyperbase/chat"

	"github.com/docopt/docopt-go"
)

func init() {
	var debug string
	debug = os.Getenv("DEBUG")
	if debug == "1" {
		log.SetLevel(log.DebugLevel)
	}
	logrus.SetReportCaller(true)
	formatter := &logrus.TextFormatter{
		CallerPrettyfier: caller(),
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyFile: "caller",
		},
	}
	formatter.TimestampFormat = "15:04:05.999999999"
	logrus.SetFormatter(formatter)
}

// caller returns string presentation of log caller which is formatted as
// `/path/to/file.go:line_number`. e.g. `/internal/app/api.go:25`
// https://stackoverflow.com/questions/63658002/is-it-possible-to-wrap-logrus-logger-functions-without-losing-the-line-number-pr
func caller() func(*runtime.Frame) (function string, file string) {
	return func(f *runtime.Frame) (function string, file string) {
		p, _ := os.Getwd()
		return "", fmt.Sprintf("%s:%d gid %d", strings.TrimPrefix(f.File, p), f.Line, hb.GetGID())
	}
}

type Opts struct {
	Post      bool
	History   bool
	Ls        bool
	Mkcat     bool
	Add       bool
	Put       bool
	Cat       bool
	Bot       bool
	Exit      bool
	Cpath     string
	Category  string
	Text      []string
	Filename  string
	Nick      string `docopt:"--nick"`
	Long      bool   `docopt:"-l"`
	Recursive bool   `docopt:"-r"`
	Out       bool   `docopt:"-o"`
}

func main() {
	os.Exit(run())
}

func run() (rc int) {

	usage := `hychat - talk to the chat daemon

Usage:
  hychat post [--nick=<nick>] <cpath> <text>...
  hychat history <cpath>
  hychat ls [-l] [-r]
  hychat mkcat <category>
  hychat add <cpath>
  hychat put <cpath> [<filename>]
  hychat cat <cpath> [-o <filename>]
  hychat bot [--nick=<nick>] [<cpath>]
  hychat exit

Options:
  -h --help      Show this screen.
  --version      Show version.
  --nick=<nick>  nick to speak as (default $USER; bot defaults to "bot")
  -l             long listing
  -r             recurse into categories
  -o             write to <filename> instead of stdout
`
	parser := &docopt.Parser{OptionsFirst: false}
	o, _ := parser.ParseArgs(usage, os.Args[1:], "0.0")
	var opts Opts
	err := o.Bind(&opts)
	if err != nil {
		log.Error(err)
		return 22
	}
	log.Debug(opts)

	dir := hypdir()
	cl, err := dial(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 41
	}
	defer cl.Close()

	var lsargs []string
	if opts.Long {
		lsargs = append(lsargs, "-l")
	}
	if opts.Recursive {
		lsargs = append(lsargs, "-r")
	}

	switch true {
	case opts.Post:
		_, err := cl.call(&chat.Request{Op: chat.OpPost, Path: opts.Cpath,
			Nick: nick(opts.Nick), Args: opts.Text})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
	case opts.History:
		res, err := cl.call(&chat.Request{Op: chat.OpHistory, Path: opts.Cpath})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		for _, line := range res.Lines {
			fmt.Println(line)
		}
	case opts.Ls:
		res, err := cl.call(&chat.Request{Op: chat.OpLs, Args: lsargs})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		if len(res.Lines) > 0 {
			fmt.Println(strings.Join(res.Lines, "\n"))
		}
	case opts.Mkcat:
		_, err := cl.call(&chat.Request{Op: chat.OpMkcat, Path: opts.Category})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
	case opts.Add:
		res, err := cl.call(&chat.Request{Op: chat.OpAdd, Path: opts.Cpath})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		fmt.Printf("%s -> %s\n", opts.Cpath, res.Lines[0])
	case opts.Put:
		var rd io.Reader = os.Stdin
		if opts.Filename != "" {
			fh, err := os.Open(opts.Filename)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 5
			}
			defer fh.Close()
			rd = fh
		}
		data, err := ioutil.ReadAll(rd)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 5
		}
		res, err := cl.call(&chat.Request{Op: chat.OpPut, Path: opts.Cpath, Data: data})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		fmt.Printf("%s -> %s\n", opts.Cpath, res.Lines[0])
	case opts.Cat:
		res, err := cl.call(&chat.Request{Op: chat.OpCat, Path: opts.Cpath})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		if opts.Out {
			err = ioutil.WriteFile(opts.Filename, res.Data, 0644)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 43
			}
		} else {
			_, err = os.Stdout.Write(res.Data)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 25
			}
		}
	case opts.Bot:
		botnick := opts.Nick
		if botnick == "" {
			botnick = "bot"
		}
		err := bot(cl, dir, opts.Cpath, botnick)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
	case opts.Exit:
		_, err := cl.call(&chat.Request{Op: chat.OpExit})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
	}
	return 0
}

func hypdir() (dir string) {
	dir = os.Getenv("HYPDIR")
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			// XXX handling this better would mean that hypdir() needs
			// to return an err
			panic("can't get current directory")
		}
	}
	return
}

func nick(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("USER")
}

// client is one msgpack framed connection to the daemon.
type client struct {
	conn    net.Conn
	encoder *msgpack.Encoder
	decoder *msgpack.Decoder
}

func dial(dir string) (cl *client, err error) {
	conn, err := chat.Dial(dir)
	if err != nil {
		return nil, fmt.Errorf("no daemon on %s: %v", dir, err)
	}
	return &client{conn, msgpack.NewEncoder(conn), msgpack.NewDecoder(conn)}, nil
}

func (cl *client) Close() error {
	return cl.conn.Close()
}

// call sends one request and waits for its response.  A non-zero
// response status comes back as an error along with the response.
func (cl *client) call(req *chat.Request) (res *chat.Response, err error) {
	err = cl.encoder.Encode(req)
	if err != nil {
		return
	}
	res = &chat.Response{}
	err = cl.decoder.Decode(res)
	if err != nil {
		return
	}
	if res.Status != 0 {
		return res, fmt.Errorf("%s", res.Error)
	}
	return
}

// bot answers mentions.  It watches the category dir -- an item
// symlink being rewritten is what a post looks like on disk -- and
// replies through the daemon like any other client.  where is a
// category, or category/item to follow a single room.
func bot(cl *client, dir, where, nick string) (err error) {
	if where == "" {
		where = "channels"
	}
	category := where
	only := ""
	if strings.Contains(where, "/") {
		category, only, err = hb.SplitCpath(where)
		if err != nil {
			return
		}
	}

	ns, err := hb.OpenNs(dir, "")
	if err != nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()
	err = watcher.Add(filepath.Join(ns.Hs.Dir, "space", category))
	if err != nil {
		return
	}

	// don't answer the backlog
	names, err := roomNames(ns, category, only)
	if err != nil {
		return
	}
	seen := make(map[string]int)
	for _, name := range names {
		res, err := cl.call(&chat.Request{Op: chat.OpHistory, Path: category + "/" + name})
		if err != nil {
			return err
		}
		seen[name] = len(res.Lines)
	}

	mention := "@" + nick
	log.Debugf("bot %s following %s", nick, where)

	for event := range watcher.Events {
		name := filepath.Base(event.Name)
		if only != "" && name != only {
			continue
		}
		if strings.HasPrefix(name, ".") {
			// renameio writes through temp names
			continue
		}
		cpath := category + "/" + name
		res, err := cl.call(&chat.Request{Op: chat.OpHistory, Path: cpath})
		if err != nil {
			log.Debugf("history %s: %v", cpath, err)
			continue
		}
		if len(res.Lines) <= seen[name] {
			continue
		}
		newrecs := res.Lines[seen[name]:]
		seen[name] = len(res.Lines)
		for _, rec := range newrecs {
			fields := strings.SplitN(rec, "\t", 3)
			if len(fields) < 3 {
				continue
			}
			from, text := fields[1], fields[2]
			if from == nick {
				// that's us
				continue
			}
			if !strings.Contains(text, mention) {
				continue
			}
			_, err = cl.call(&chat.Request{Op: chat.OpPost, Path: cpath,
				Nick: nick, Args: []string{"Hello, I am a bot!"}})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// roomNames lists the items under a category dir.
func roomNames(ns *hb.Ns, category, only string) (names []string, err error) {
	if only != "" {
		return []string{only}, nil
	}
	entries, err := ioutil.ReadDir(filepath.Join(ns.Hs.Dir, "space", category))
	if err != nil {
		return
	}
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return
}
