package comm

import "github.com/sigurn/crc8"

// CRC-8 with polynomial 0x07, zero init, no reflection, no final xor.
var crcTable = crc8.MakeTable(crc8.CRC8)

// CRC8 calculates the checksum of a frame region.
func CRC8(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}
