package frame

// ForwardingEnable is the EtherCAT frame that enables forwarding on
// attached EtherCAT terminals. It is transmitted exactly once on every
// link-up, before the carrier is signalled to the stack. The byte
// sequence is part of the compatibility contract and must not change:
// multicast destination, EtherCAT source/type, then the fixed command.
var ForwardingEnable = [30]byte{
	0x01, 0x01, 0x05, 0x01, 0x00, 0x00,
	0x00, 0x1b, 0x21, 0x36, 0x1b, 0xce,
	0x88, 0xa4, 0x0e, 0x10,
	0x08,
	0x00,
	0x00, 0x00,
	0x00, 0x01,
	0x02, 0x00,
	0x00, 0x00,
	0x00, 0x00,
	0x00, 0x00,
}
