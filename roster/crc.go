package roster

// CRC-16/BUYPASS parameters: polynomial 0x8005, zero init, no reflection,
// no final xor. Check value over "123456789" is 0xFEE8.
const (
	crcPolynomial = 0x8005
	crcHighBit    = 0x8000
)

var crcTable = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for range 8 {
			if crc&crcHighBit != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// Checksum computes the CRC-16/BUYPASS of data.
func Checksum(data []byte) uint16 {
	return UpdateChecksum(0, data)
}

// UpdateChecksum continues a CRC-16/BUYPASS computation.
func UpdateChecksum(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
