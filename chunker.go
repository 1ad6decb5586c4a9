package hyperbase

import (
	"io"

	resticRabin "github.com/restic/chunker"
)

const (
	kiB = 1024
	miB = 1024 * kiB

	// defMinSize is the default minimal size of a chunk.
	defMinSize = 512 * kiB
	// defMaxSize is the default maximal size of a chunk.
	defMaxSize = 8 * miB
)

// rabin lightly wraps restic's chunker on the slight chance that we
// might need to replace it someday.
// XXX restic's Next() does copies rather than passing pointers --
// we might want to replace restic's lib sooner rather than later
type rabin struct {
	Poly    resticRabin.Pol
	C       *resticRabin.Chunker
	MinSize uint
	MaxSize uint
}

func (c rabin) Init() (res *rabin, err error) {
	if c.MinSize == 0 {
		c.MinSize = defMinSize
	}
	if c.MaxSize == 0 {
		c.MaxSize = defMaxSize
	}
	if c.Poly == 0 {
		c.Poly, err = resticRabin.RandomPolynomial()
	}
	return &c, err
}

func (c *rabin) Start(rd io.Reader) {
	c.C = resticRabin.NewWithBoundaries(rd, c.Poly, c.MinSize, c.MaxSize)
}

// Next fills buf with the next chunk from the reader given to Start()
// and returns a Chunk struct holding the position, length, and a copy
// of the chunk data.  After the last chunk, subsequent calls yield
// io.EOF.  The chunk comes back via Chunk.Data rather than buf; buf is
// only scratch space.
func (c *rabin) Next(buf []byte) (chunk resticRabin.Chunk, err error) {
	chunk, err = c.C.Next(buf)
	return
}
