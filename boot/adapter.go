package boot

import (
	"strings"
	"syscall"

	. "github.com/stevegt/goadapt"

	"github.com/t7a/hyperbase"
)

// NsAdapter is the production Adapter: it mutates the chat namespace
// directly on disk.  Mutations with bootstrap=false are refused while
// a live daemon is listening on the chat root's socket -- at that
// point the daemon owns the namespace and callers should go through
// it instead.
type NsAdapter struct {
	Dir        string
	Hyperspace string
	ns         *hyperbase.Ns
}

func (a *NsAdapter) Initialize() (err error) {
	defer Return(&err)
	ns, err := hyperbase.Ns{Dir: a.Dir, HsDir: a.Hyperspace}.Create()
	Ck(err)
	a.ns = ns
	return nil
}

func (a *NsAdapter) open() (ns *hyperbase.Ns, err error) {
	defer Return(&err)
	if a.ns == nil {
		a.ns, err = hyperbase.OpenNs(a.Dir, a.Hyperspace)
		Ck(err)
	}
	return a.ns, nil
}

func (a *NsAdapter) Create(category string, bootstrap bool) (err error) {
	defer Return(&err)
	ns, err := a.open()
	Ck(err)
	ErrnoIf(!bootstrap && ns.SockActive(), syscall.EBUSY,
		"daemon is live; mutate through it")
	err = ns.CreateCategory(category)
	Ck(err)
	return nil
}

func (a *NsAdapter) Add(cpath string, bootstrap bool) (err error) {
	defer Return(&err)
	ns, err := a.open()
	Ck(err)
	ErrnoIf(!bootstrap && ns.SockActive(), syscall.EBUSY,
		"daemon is live; mutate through it")
	_, err = ns.AddItem(cpath)
	Ck(err)
	return nil
}

func (a *NsAdapter) List(bootstrap, long, recursive bool) (out string, err error) {
	defer Return(&err)
	ns, err := a.open()
	Ck(err)
	lines, err := ns.List(long, recursive)
	Ck(err)
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}
