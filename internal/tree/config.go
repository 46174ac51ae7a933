package tree

// Config groups this core's tunable constants (§4.4.1 SCAN_MAXNODES,
// §4.4.3 RELOC_THRESHOLD, §4.3.7 FLOW_NEW_NODES_LIMIT) behind one
// value. This core takes no flag or config-file surface, so callers
// get a defaults constructor plus functional-option setters, the same
// shape the teacher uses for constructing tunable internal state.
type Config struct {
	// ScanMaxNodes bounds leftpoint location's leftward scan (§4.4.1).
	ScanMaxNodes int
	// RelocThreshold is the contiguous-dirty-run length above which
	// relocate is preferred over overwrite (§4.4.3).
	RelocThreshold int
	// FlowNewNodesLimit caps how many new sibling nodes make_space's
	// allocate-new-sibling step may create for one op (§4.3.7).
	FlowNewNodesLimit int
}

// Option sets one Config field.
type Option func(*Config)

// WithScanMaxNodes overrides ScanMaxNodes.
func WithScanMaxNodes(n int) Option { return func(c *Config) { c.ScanMaxNodes = n } }

// WithRelocThreshold overrides RelocThreshold.
func WithRelocThreshold(n int) Option { return func(c *Config) { c.RelocThreshold = n } }

// WithFlowNewNodesLimit overrides FlowNewNodesLimit.
func WithFlowNewNodesLimit(n int) Option { return func(c *Config) { c.FlowNewNodesLimit = n } }

// DefaultConfig returns this core's out-of-the-box tunables, with any
// opts applied on top.
func DefaultConfig(opts ...Option) Config {
	c := Config{
		ScanMaxNodes:      10000,
		RelocThreshold:    64,
		FlowNewNodesLimit: 2,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
