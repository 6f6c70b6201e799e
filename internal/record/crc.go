package record

import "hash/crc32"

// castagnoliTable implements the CRC-32C variant (polynomial 0x1EDC6F41,
// reflected input/output, init 0, xorout 0) that every Container's
// data_crc field is computed with. crc32.Checksum dispatches to the
// SSE4.2/ARM64 CRC32 instruction when available, so this gets hardware
// acceleration for free.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumCastagnoli computes the CRC-32C checksum of data.
func ChecksumCastagnoli(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// crcEnabled is the process-wide toggle controlling whether readers verify
// a Container's data_crc. Disabling it still leaves magic-number validation
// in place. It defaults to enabled.
var crcEnabled = true

// SetCRCVerification enables or disables CRC verification on read for the
// remainder of the process. It is not safe to call concurrently with
// container parsing.
func SetCRCVerification(enabled bool) {
	crcEnabled = enabled
}

// CRCVerificationEnabled reports the current value of the process-wide CRC
// toggle.
func CRCVerificationEnabled() bool {
	return crcEnabled
}
