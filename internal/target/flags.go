package target

// PTEFlags is the decoded flag view of one 64-bit paging entry. The same
// layout applies at every level; PageSize is only meaningful at PDPT/PD.
type PTEFlags struct {
	Present      bool
	Writable     bool
	User         bool
	WriteThrough bool
	CacheDisable bool
	Accessed     bool
	Dirty        bool
	PageSize     bool
	Global       bool
	NX           bool
}

// ParsePTEFlags extracts the architectural flag bits from a paging entry.
func ParsePTEFlags(entry uint64) PTEFlags {
	return PTEFlags{
		Present:      entry&(1<<0) != 0,
		Writable:     entry&(1<<1) != 0,
		User:         entry&(1<<2) != 0,
		WriteThrough: entry&(1<<3) != 0,
		CacheDisable: entry&(1<<4) != 0,
		Accessed:     entry&(1<<5) != 0,
		Dirty:        entry&(1<<6) != 0,
		PageSize:     entry&(1<<7) != 0,
		Global:       entry&(1<<8) != 0,
		NX:           entry&(1<<63) != 0,
	}
}
