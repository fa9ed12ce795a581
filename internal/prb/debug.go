package prb

// IterateChunk is the exported form of the chunk-level iterator, for
// read-only introspection tools that don't go through a PRB/Handle (a
// debug CLI dumping an isolated chunk image, for instance).
func IterateChunk(c *Chunk, fn func(ChunkEntry) bool) error {
	return iterateChunk(c, fn)
}
