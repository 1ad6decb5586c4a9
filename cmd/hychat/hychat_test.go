package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmdtest"
	"github.com/pkg/fileutils"

	"github.com/t7a/hyperbase/boot"
	"github.com/t7a/hyperbase/chat"
)

var update = flag.Bool("update", false, "update test files with results")

// bootServe bootstraps a chat root and brings up a daemon on it.
func bootServe(dir string) (c *chat.Chat, err error) {
	seq := &boot.Sequencer{
		Config:  boot.DefaultConfig(dir),
		Adapter: &boot.NsAdapter{Dir: dir},
	}
	_, err = seq.Run()
	if err != nil {
		return
	}
	c, err = chat.Open(dir)
	if err != nil {
		return
	}
	err = c.Serve()
	if err != nil {
		return
	}
	return
}

func TestCLI(t *testing.T) {
	ts, err := cmdtest.Read("testdata")
	if err != nil {
		t.Fatal(err)
	}
	srcdir, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	ts.Setup = func(dir string) (err error) {
		err = fileutils.CopyFile(filepath.Join(dir, "note.txt"), filepath.Join(srcdir, "testdata/note.txt"))
		if err != nil {
			return
		}
		c, err := bootServe(dir)
		if err != nil {
			return
		}
		// the script's trailing exit command tears this down
		go func() {
			c.Wait()
			c.Shutdown()
		}()
		return
	}
	ts.Commands["hychat"] = cmdtest.InProcessProgram("hychat", run)
	ts.Run(t, *update)
}

func TestBot(t *testing.T) {
	dir := t.TempDir()

	c, err := bootServe(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Shutdown()

	botcl, err := dial(dir)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		// runs until the watcher dies at test teardown
		bot(botcl, dir, "channels", "keeper")
	}()

	// give the bot a moment to arm its watcher
	time.Sleep(time.Second)

	usercl, err := dial(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer usercl.Close()
	_, err = usercl.call(&chat.Request{Op: chat.OpPost, Path: "channels/general",
		Nick: "alice", Args: []string{"hey @keeper you around?"}})
	if err != nil {
		t.Fatal(err)
	}

	// wait for the reply to land in the journal
	deadline := time.Now().Add(10 * time.Second)
	for {
		res, err := usercl.call(&chat.Request{Op: chat.OpHistory, Path: "channels/general"})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Lines) >= 2 {
			last := res.Lines[len(res.Lines)-1]
			if !strings.Contains(last, "\tkeeper\t") ||
				!strings.Contains(last, "Hello, I am a bot!") {
				t.Fatalf("unexpected reply %q", last)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("bot never replied")
		}
		time.Sleep(100 * time.Millisecond)
	}
}
