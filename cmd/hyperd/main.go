package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/docopt/docopt-go"
	. "github.com/stevegt/goadapt"

	hb "github.com/t7a/hyperbase"
	"github.com/t7a/hyperbase/boot"
	"github.com/t7a/hyperbase/chat"
	"github.com/t7a/hyperbase/fuse"
)

const usage = `hyperd - chat daemon

Usage:
  hyperd boot [<dir>]
  hyperd serve [<dir>]
  hyperd mount <mountpoint> [<dir>]
  hyperd [<dir>]

Options:
  -h --help     Show this screen.
  --version     Show version.

With no subcommand, hyperd bootstraps the chat root and then serves
it, blocking until a client sends exit.
`

type Opts struct {
	Boot       bool
	Serve      bool
	Mount      bool
	Dir        string
	Mountpoint string
}

func main() {
	// see https://github.com/google/go-cmdtest
	os.Exit(cliMain())
}

func cliMain() int {
	rc, msg := Run()
	if len(msg) > 0 {
		fmt.Fprintf(os.Stderr, msg+"\n")
	}
	return rc
}

func Run() (rc int, msg string) {
	defer Halt(&rc, &msg)

	parser := &docopt.Parser{OptionsFirst: false}
	o, _ := parser.ParseArgs(usage, os.Args[1:], "0.0")
	var opts Opts
	err := o.Bind(&opts)
	Ck(err)

	dir := opts.Dir
	if dir == "" {
		dir = os.Getenv("HYPDIR")
	}
	if dir == "" {
		dir, err = os.Getwd()
		Assert(err == nil, "can't get current directory")
	}

	switch {
	case opts.Boot:
		failed, err := bootstrap(dir)
		Ck(err)
		if failed {
			return 1, "bootstrap incomplete"
		}
	case opts.Serve:
		err = serve(dir)
		Ck(err)
	case opts.Mount:
		err = mount(dir, opts.Mountpoint)
		Ck(err)
	default:
		failed, err := bootstrap(dir)
		Ck(err)
		if failed {
			return 1, "bootstrap incomplete"
		}
		err = serve(dir)
		Ck(err)
	}

	return
}

// bootstrap runs the boot sequence against the chat root at dir.  It
// is idempotent; steps that already hold are skipped.
func bootstrap(dir string) (failed bool, err error) {
	defer Return(&err)

	seq := &boot.Sequencer{
		Config:  boot.DefaultConfig(dir),
		Adapter: &boot.NsAdapter{Dir: dir},
		Out:     os.Stdout,
	}
	results, err := seq.Run()
	if err != nil {
		return true, err
	}
	for _, res := range results {
		if res.Status == boot.Failed {
			fmt.Fprintln(os.Stderr, res.String())
		}
	}
	failed = boot.AnyFailed(results)
	return
}

// serve owns the chat root until a client sends exit or we get a
// signal.
func serve(dir string) (err error) {
	defer Return(&err)

	c, err := chat.Open(dir)
	Ck(err)
	defer c.Shutdown()

	// shut down on SIGINT or SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		c.Shutdown()
		os.Exit(1)
	}()

	err = c.Serve()
	Ck(err)
	c.Wait()

	return
}

func mount(dir, mountpoint string) (err error) {
	defer Return(&err)

	var server *gofuse.Server

	// unmount on exit
	defer func() { umount(server) }()

	// unmount on SIGINT or SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		umount(server)
		os.Exit(1)
	}()

	ns, err := hb.OpenNs(dir, "")
	Ck(err)

	server, err = fuse.Serve(ns, mountpoint)
	Ck(err)
	server.Wait()

	return
}

func umount(server *gofuse.Server) {
	if server != nil {
		server.Unmount()
	}
}
