package sdfat

const (
	// FAT32EOF is written to the last cluster of every chain.
	FAT32EOF = 0x0FFFFFFF

	fatEntryMask     = 0x0FFFFFFF
	fatReservedMask  = 0xF0000000
	fatBadCluster    = 0x0FFFFFF7
	fatEOFMin        = 0x0FFFFFF8
	fatReservedStart = 0x0FFFFFF0
)

// fatEntry is a raw 32 bit FAT32 table entry as stored on the card.
// Only the lower 28 bits are significant, the upper 4 bits are reserved and
// must survive every write.
type fatEntry uint32

// Value returns the significant 28 bits.
func (e fatEntry) Value() uint32 {
	return uint32(e) & fatEntryMask
}

// IsFree reports an unallocated cluster.
func (e fatEntry) IsFree() bool {
	return e.Value() == 0
}

// IsReservedTemp reports the value 1 which is never a valid link.
func (e fatEntry) IsReservedTemp() bool {
	return e.Value() == 1
}

// IsReserved reports values between the last valid cluster and the bad marker.
func (e fatEntry) IsReserved() bool {
	return e.Value() >= fatReservedStart && e.Value() < fatBadCluster
}

func (e fatEntry) IsBad() bool {
	return e.Value() == fatBadCluster
}

// IsEOF reports the end of a chain. Every value from 0x0FFFFFF8 on counts.
func (e fatEntry) IsEOF() bool {
	return e.Value() >= fatEOFMin
}

// IsNextCluster reports whether the entry links to another cluster.
func (e fatEntry) IsNextCluster() bool {
	return e.Value() >= 2 && e.Value() < fatReservedStart
}

// encode merges value into the entry, keeping its reserved bits.
func (e fatEntry) encode(value uint32) fatEntry {
	return fatEntry(uint32(e)&fatReservedMask | value&fatEntryMask)
}
