package cpu

// TranslationBlock caches one decoded Instruction keyed by its entry
// linear IP, plus the linear byte range it was decoded from, so a later
// memory write can tell whether it needs to invalidate the block (spec.md
// §4.5).
type TranslationBlock struct {
	Instruction *Instruction
	Start       uint64
	End         uint64 // exclusive
}

// TBCache is the entry-IP -> TranslationBlock map described in spec.md
// §4.5. Replay executes the cached instruction's handler directly,
// short-circuiting the decode step entirely.
type TBCache struct {
	blocks map[uint64]*TranslationBlock
}

func NewTBCache() *TBCache {
	return &TBCache{blocks: make(map[uint64]*TranslationBlock)}
}

// Lookup returns the cached block at entryIP, if any.
func (c *TBCache) Lookup(entryIP uint64) (*TranslationBlock, bool) {
	tb, ok := c.blocks[entryIP]
	return tb, ok
}

// Record remembers a freshly decoded instruction for replay.
func (c *TBCache) Record(entryIP uint64, ins *Instruction) {
	c.blocks[entryIP] = &TranslationBlock{
		Instruction: ins,
		Start:       ins.StartIP,
		End:         ins.StartIP + uint64(ins.Length),
	}
}

// InvalidateRange drops every cached block whose decoded byte range
// overlaps [addr, addr+n), per the Operand Engine's write contract in
// spec.md §4.2 and the cache's own invalidation rule in §4.5.
func (c *TBCache) InvalidateRange(addr uint64, n int) {
	end := addr + uint64(n)
	for ip, tb := range c.blocks {
		if tb.Start < end && addr < tb.End {
			delete(c.blocks, ip)
		}
	}
}

// Clear drops every cached block. ConfigureMode, Reset and Restore call it
// (spec.md §4.5), since the linear-address meaning or the memory contents
// change; setting MMU.PagingEnabled directly does not clear the cache.
func (c *TBCache) Clear() {
	c.blocks = make(map[uint64]*TranslationBlock)
}
