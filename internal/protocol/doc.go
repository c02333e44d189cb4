// Package protocol owns the swiftwire wire contract.
//
// Ownership boundary:
// - big-endian integer codec
// - HELLO / HELLO_ACK message bodies and the server reply rule
// - error taxonomy shared by client, session and listener
//
// Wire format:
//
//	Frame:      [4 bytes length, big-endian][length bytes body]
//	HELLO:      body = [0x01][8 bytes client id]
//	HELLO_ACK:  body = [0x81][8 bytes echoed id][1 byte status]
package protocol
