package hyperbase

// Block is a leaf object: one deduplicated chunk of journal or
// attachment content.
type Block struct {
	Hs *Hs
	*Worm
}

func (block Block) New(hs *Hs, file *Worm) *Block {
	block.Hs = hs
	block.Worm = file
	return &block
}

func (block *Block) GetPath() *Path {
	return block.Path
}
