package chat

import (
	"bytes"
	"syscall"

	"github.com/google/shlex"
	. "github.com/stevegt/goadapt"
)

// Op names one chat operation on the wire.
type Op string

const (
	OpPost    Op = "post"
	OpHistory Op = "history"
	OpLs      Op = "ls"
	OpMkcat   Op = "mkcat"
	OpAdd     Op = "add"
	OpPut     Op = "put"
	OpCat     Op = "cat"
	OpExit    Op = "exit"
)

// pathOps maps each operation that addresses a category or item to
// the argument slot Parse pulls the path from.
var pathOps = map[Op]bool{
	OpPost:    true,
	OpHistory: true,
	OpMkcat:   true,
	OpAdd:     true,
	OpPut:     true,
	OpCat:     true,
}

// Request is one client message: an operation, the category or item
// it addresses, the sender, and any remaining words.  Data carries
// attachment bytes for put.
type Request struct {
	Op   Op
	Path string
	Nick string
	Args []string
	Data []byte
}

// Compare reports whether two requests are identical.
func (req *Request) Compare(other *Request) bool {
	if req.Op != other.Op || req.Path != other.Path || req.Nick != other.Nick {
		return false
	}
	if len(req.Args) != len(other.Args) {
		return false
	}
	for i := range req.Args {
		if req.Args[i] != other.Args[i] {
			return false
		}
	}
	return bytes.Equal(req.Data, other.Data)
}

// Response is the server's answer to one Request.  Status zero means
// success; otherwise Error says what went wrong.  Lines carries
// listing and history output, Data attachment bytes for cat.
type Response struct {
	Op     Op
	Status int
	Error  string
	Lines  []string
	Data   []byte
}

// Compare reports whether two responses are identical.
func (res *Response) Compare(other *Response) bool {
	if res.Op != other.Op || res.Status != other.Status || res.Error != other.Error {
		return false
	}
	if len(res.Lines) != len(other.Lines) {
		return false
	}
	for i := range res.Lines {
		if res.Lines[i] != other.Lines[i] {
			return false
		}
	}
	return bytes.Equal(res.Data, other.Data)
}

// Parse splits a shell-quoted command line into a Request.  The first
// word is the operation; for operations that address a category or
// item the second word is the path.  Nick and Data are the caller's
// to fill in.
func Parse(txt string) (req *Request, err error) {
	defer Return(&err)
	parts, err := shlex.Split(txt)
	Ck(err)
	ErrnoIf(len(parts) < 1, syscall.EINVAL, "empty request: %q", txt)
	req = &Request{}
	req.Op = Op(parts[0])
	rest := parts[1:]
	if pathOps[req.Op] {
		ErrnoIf(len(rest) < 1, syscall.EINVAL, "%s needs a path: %q", req.Op, txt)
		req.Path = rest[0]
		rest = rest[1:]
	}
	req.Args = rest
	return
}

// Callback handles one request.  A nil response with a nil error
// means the callback has nothing to say and the next one runs.
type Callback func(req *Request) (res *Response, err error)

// Dispatcher routes requests to the callbacks registered for their
// operation.
type Dispatcher struct {
	callbacks map[Op][]Callback
}

func NewDispatcher() *Dispatcher {
	m := make(map[Op][]Callback)
	return &Dispatcher{callbacks: m}
}

// Register records callback as a function which Dispatch() will later
// call for op.
func (dp *Dispatcher) Register(callback Callback, op Op) {
	dp.callbacks[op] = append(dp.callbacks[op], callback)
	return
}

// Dispatch calls any functions that were previously registered with
// req.Op, passing req to each.  The last callback's response and
// error win; with no callbacks both are nil.
func (dp *Dispatcher) Dispatch(req *Request) (res *Response, err error) {
	for _, callback := range dp.callbacks[req.Op] {
		res, err = callback(req)
	}
	return
}
