package sdfat

// BlockDevice is the storage the engine runs on, typically an SD card in SPI mode.
// Both calls block until the transfer is complete. Retries are up to the device.
// Generated mock using mockgen:
//  mockgen -source=device.go -destination=device_mock.go -package sdfat
type BlockDevice interface {
	// ReadSector fills dst, which has SectorSize bytes, with the sector at lba.
	ReadSector(lba uint32, dst []byte) error
	// WriteSector writes the SectorSize bytes of src to the sector at lba.
	WriteSector(lba uint32, src []byte) error
}
