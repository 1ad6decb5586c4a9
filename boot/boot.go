// Package boot brings a chat root from any state -- missing, partial,
// or complete -- to the configured namespace layout.  Every step is
// guarded by an existence check, so running the sequence twice is a
// no-op, and a half-built root is simply resumed.
package boot

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/t7a/hyperbase"
)

// Adapter is the storage contract the sequencer drives.  Initialize
// fails if the hyperspace already exists; the sequencer guards it with
// an existence check and never calls it twice for one root.  The
// bootstrap argument marks direct-to-disk mutation during bootstrap;
// passing false asks the adapter to refuse while a live daemon owns
// the namespace.
type Adapter interface {
	Initialize() error
	Create(category string, bootstrap bool) error
	Add(cpath string, bootstrap bool) error
	List(bootstrap, long, recursive bool) (string, error)
}

// Category names one namespace category and the items it starts with.
type Category struct {
	Name  string
	Items []string
}

// Config describes the namespace a bootstrap run converges on.  All
// paths are composed from Dir; the sequencer never changes the working
// directory.  Slice order is execution order.
type Config struct {
	Dir        string
	Hyperspace string
	Categories []Category
}

// DefaultConfig returns the stock chat namespace rooted at dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:        dir,
		Hyperspace: hyperbase.DefaultHyperspace,
		Categories: []Category{
			{Name: "channels", Items: ParseItems("general,random,dog,llm,yolo")},
			{Name: "users"},
		},
	}
}

// ParseItems splits a comma-separated item list, dropping empty
// segments, so "general,,random" means two items.
func ParseItems(csv string) (items []string) {
	for _, item := range strings.Split(csv, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		items = append(items, item)
	}
	return
}

// Status classifies one sequencer step.
type Status int

const (
	Ok      Status = iota // the step ran and succeeded
	Skipped               // the existence check short-circuited the step
	Failed                // the step ran and returned an error
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "ok"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result records one sequencer step: every adapter call gets exactly
// one, as do the root and hyperspace guards.
type Result struct {
	Step   string
	Status Status
	Err    error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Step, r.Status, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Step, r.Status)
}

// AnyFailed reports whether any step in results failed.
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if r.Status == Failed {
			return true
		}
	}
	return false
}

// Sequencer runs the bootstrap sequence described by Config against
// Adapter.  Status lines for state-changing steps are written to Out;
// a rerun over a complete root prints nothing but the final listing.
type Sequencer struct {
	Config  *Config
	Adapter Adapter
	Out     io.Writer
}

// Run converges the chat root on the configured namespace:
// root dir, hyperspace, categories in order, items in order, then a
// listing for the log.  Root and hyperspace failures are fatal --
// nothing below them can work, so Run returns immediately.  A failed
// category skips its items; any other failure is recorded and the
// sequence continues.
func (s *Sequencer) Run() (results []Result, err error) {
	if s.Config == nil || s.Adapter == nil {
		return nil, fmt.Errorf("sequencer needs Config and Adapter")
	}
	cfg := s.Config
	out := s.Out
	if out == nil {
		out = ioutil.Discard
	}

	// root dir
	if exists(cfg.Dir) {
		results = append(results, Result{Step: "root", Status: Skipped})
	} else {
		fmt.Fprintf(out, "creating root %s\n", cfg.Dir)
		err = os.MkdirAll(cfg.Dir, 0755)
		if err != nil {
			results = append(results, Result{Step: "root", Status: Failed, Err: err})
			return results, err
		}
		results = append(results, Result{Step: "root", Status: Ok})
	}

	// hyperspace
	hsdir := cfg.Hyperspace
	if hsdir == "" {
		hsdir = hyperbase.DefaultHyperspace
	}
	if exists(filepath.Join(cfg.Dir, hsdir)) {
		results = append(results, Result{Step: "initialize", Status: Skipped})
	} else {
		fmt.Fprintf(out, "initializing hyperspace %s\n", filepath.Join(cfg.Dir, hsdir))
		err = s.Adapter.Initialize()
		if err != nil {
			results = append(results, Result{Step: "initialize", Status: Failed, Err: err})
			return results, err
		}
		results = append(results, Result{Step: "initialize", Status: Ok})
	}

	// categories and their items
	for _, cat := range cfg.Categories {
		if cat.Name == "" {
			continue
		}
		step := "create " + cat.Name
		if canlstat(filepath.Join(cfg.Dir, cat.Name)) {
			results = append(results, Result{Step: step, Status: Skipped})
		} else {
			fmt.Fprintf(out, "creating %s\n", cat.Name)
			cerr := s.Adapter.Create(cat.Name, true)
			if cerr != nil {
				log.Debugf("create %s: %v", cat.Name, cerr)
				results = append(results, Result{Step: step, Status: Failed, Err: cerr})
				// a category that failed to create can't hold items
				continue
			}
			results = append(results, Result{Step: step, Status: Ok})
		}

		for _, item := range cat.Items {
			if item == "" {
				continue
			}
			cpath := cat.Name + "/" + item
			step := "add " + cpath
			if canlstat(filepath.Join(cfg.Dir, cat.Name, item)) {
				results = append(results, Result{Step: step, Status: Skipped})
				continue
			}
			fmt.Fprintf(out, "adding %s\n", cpath)
			aerr := s.Adapter.Add(cpath, true)
			if aerr != nil {
				log.Debugf("add %s: %v", cpath, aerr)
				results = append(results, Result{Step: step, Status: Failed, Err: aerr})
				continue
			}
			results = append(results, Result{Step: step, Status: Ok})
		}
	}

	// listing, for the log; read-only
	txt, lerr := s.Adapter.List(true, true, true)
	if lerr != nil {
		results = append(results, Result{Step: "list", Status: Failed, Err: lerr})
		return results, nil
	}
	fmt.Fprint(out, txt)
	results = append(results, Result{Step: "list", Status: Ok})

	return results, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// canlstat is the existence check for categories and items: the
// symlink itself counts, even when its target dangles.
func canlstat(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
