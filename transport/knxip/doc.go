// Package knxip implements transport.Transport over a KNXnet/IP tunnel.
//
// Update telegrams travel in a transport layer connection to the device as
// manufacturer user messages:
//
//	request:  A_UserMessage_Manufacturer_0 (APCI 0x2F8) [CMD][DATA...]
//	response: A_UserMessage_Manufacturer_6 (APCI 0x2FE) [CMD][DATA...]
//
// The connection is opened with T_Connect on the first telegram to a device
// and every numbered telegram is acknowledged with T_Ack. Restarts use
// A_Restart and programming mode is detected with a broadcast
// A_IndividualAddress_Read.
//
// Example:
//
//	t := knxip.New("192.168.1.10:3671")
//	s := bootloader.New(t, transport.NewAddress(15, 15, 192))
package knxip
