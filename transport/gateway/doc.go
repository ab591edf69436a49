// Package gateway implements transport.Transport for a bus gateway attached
// to a serial port.
//
// The gateway forwards update telegrams to a device over a connection-oriented
// bus link and returns the device's response. Host and gateway exchange
// checksummed frames:
//
//	[SOF][SVC][ADDR_H][ADDR_L][LEN][DATA...][CHECKSUM_L][CHECKSUM_H][EOF]
//
// Where:
//   - SOF = Start of Frame (0x01)
//   - EOF = End of Frame (0x17)
//   - ADDR = destination (request) or source (response) individual address
//   - CHECKSUM = 16-bit 2's complement sum of SVC through DATA (little-endian)
//
// A failed request is answered with an SvcError frame whose status byte maps
// to the transport error values.
//
// The frame format is defined by this package, not by a bus standard: it
// needs gateway firmware that implements it. Standard KNXnet/IP interfaces
// are reached with package knxip.
package gateway
