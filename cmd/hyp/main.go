package main

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	hb "github.com/t7a/hyperbase"

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
	Init      bool
	Mkcat     bool
	Add       bool
	Ls        bool
	Post      bool
	History   bool
	Put       bool
	Cat       bool
	Canon2abs bool
	Abs2canon bool
	Category  string
	Cpath     string
	Nick      string
	Text      []string
	Path      string
	Filename  string
	Bootstrap bool `docopt:"-b"`
	Long      bool `docopt:"-l"`
	Recursive bool `docopt:"-r"`
	Quiet     bool `docopt:"-q"`
	Out       bool `docopt:"-o"`
}

func main() {
	// see https://github.com/google/go-cmdtest
	os.Exit(run())
}

func run() (rc int) {

	usage := `hyp - content-addressed chat storage

Usage:
  hyp init
  hyp mkcat [-b] <category>
  hyp add [-b] <cpath>
  hyp ls [-l] [-r] [<category>]
  hyp post [-b] <cpath> <nick> <text>...
  hyp history <cpath>
  hyp put [-b] [-q] <cpath> [<filename>]
  hyp cat <cpath> [-o <filename>]
  hyp canon2abs <path>
  hyp abs2canon <path>

Options:
  -h --help     Show this screen.
  --version     Show version.
  -b            write directly to disk even when a daemon is live
  -l            long listing
  -r            recurse into categories
  -q            quiet
  -o            write to <filename> instead of stdout
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

	switch true {
	case opts.Init:
		msg, err := create()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		fmt.Println(msg)
	case opts.Mkcat:
		err := mkcat(opts.Category, opts.Bootstrap)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
	case opts.Add:
		item, err := addItem(opts.Cpath, opts.Bootstrap)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		fmt.Printf("%s -> %s\n", item.Label(), item.RootNode.Path.Canon)
	case opts.Ls:
		lines, err := list(opts.Long, opts.Recursive, opts.Category)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		if len(lines) > 0 {
			fmt.Println(strings.Join(lines, "\n"))
		}
	case opts.Post:
		err := post(opts.Cpath, opts.Nick, strings.Join(opts.Text, " "), opts.Bootstrap)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
	case opts.History:
		records, err := history(opts.Cpath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		for _, rec := range records {
			fmt.Println(rec)
		}
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
		rootnode, err := putItem(opts.Cpath, rd, opts.Bootstrap)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		if !opts.Quiet {
			fmt.Printf("%s -> %s\n", opts.Cpath, rootnode.Path.Canon)
		}
	case opts.Cat:
		buf, err := catItem(opts.Cpath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		if opts.Out {
			err = ioutil.WriteFile(opts.Filename, buf, 0644)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 43
			}
		} else {
			fmt.Print(string(buf))
		}
	case opts.Canon2abs:
		path, err := canon2abs(opts.Path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		fmt.Println(path)
	case opts.Abs2canon:
		canon, err := abs2canon(opts.Path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 42
		}
		fmt.Println(canon)
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

func create() (msg string, err error) {
	ns, err := hb.Ns{Dir: hypdir()}.Create()
	if err != nil {
		return
	}
	return fmt.Sprintf("Initialized empty chat root in %s", ns.Dir), nil
}

func openns() (ns *hb.Ns, err error) {
	return hb.OpenNs(hypdir(), "")
}

// checkLive refuses direct disk writes while a daemon owns the root,
// unless the caller forces bootstrap mode.
func checkLive(ns *hb.Ns, bootstrap bool) (err error) {
	if !bootstrap && ns.SockActive() {
		return fmt.Errorf("daemon is live, go through it or pass -b: %s", ns.SockPath())
	}
	return nil
}

func mkcat(category string, bootstrap bool) (err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	err = checkLive(ns, bootstrap)
	if err != nil {
		return
	}
	return ns.CreateCategory(category)
}

func addItem(cpath string, bootstrap bool) (item *hb.Item, err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	err = checkLive(ns, bootstrap)
	if err != nil {
		return
	}
	item, err = ns.AddItem(cpath)
	if err != nil {
		return
	}
	return
}

func list(long, recursive bool, category string) (lines []string, err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	all, err := ns.List(long, recursive)
	if err != nil {
		return
	}
	if category == "" {
		return all, nil
	}
	for _, line := range all {
		name := line
		if i := strings.IndexAny(name, " /"); i >= 0 {
			name = name[:i]
		}
		if name == category {
			lines = append(lines, line)
		}
	}
	return
}

func post(cpath, nick, text string, bootstrap bool) (err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	err = checkLive(ns, bootstrap)
	if err != nil {
		return
	}
	_, err = ns.Post(cpath, nick, text)
	if err != nil {
		return
	}
	return
}

func history(cpath string) (records []string, err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	records, err = ns.History(cpath)
	if err != nil {
		return
	}
	return
}

func putItem(cpath string, rd io.Reader, bootstrap bool) (rootnode *hb.Tree, err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	err = checkLive(ns, bootstrap)
	if err != nil {
		return
	}
	category, name, err := hb.SplitCpath(cpath)
	if err != nil {
		return
	}
	fd, err := ns.Hs.ExLock(cpath)
	if err != nil {
		return
	}
	defer ns.Hs.Unlock(fd)
	rootnode, err = ns.Hs.PutStream(hb.DefaultAlgo, rd)
	if err != nil {
		return
	}
	if rootnode == nil {
		return nil, fmt.Errorf("empty input: %s", cpath)
	}
	_, err = rootnode.LinkItem(category, name)
	if err != nil {
		return
	}
	return
}

func catItem(cpath string) (buf []byte, err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	item, err := ns.OpenItem(cpath)
	if err != nil {
		return
	}
	buf, err = ioutil.ReadAll(item)
	if err != nil {
		return
	}
	return
}

func canon2abs(raw string) (abspath string, err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	path, err := hb.Path{}.New(ns.Hs, raw)
	if err != nil {
		return
	}
	return path.Abs, nil
}

func abs2canon(raw string) (canpath string, err error) {
	ns, err := openns()
	if err != nil {
		return
	}
	path, err := hb.Path{}.New(ns.Hs, raw)
	if err != nil {
		return
	}
	return path.Canon, nil
}
