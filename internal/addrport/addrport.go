// Package addrport provides the fixed-size IPv4 address+port value used
// to identify a remote node, with a deterministic comparison id (3.
// AddrPort).
package addrport

import (
	"encoding/binary"
	"fmt"
	"net"
)

// AddrPort is an IPv4 address and port. The address bytes are in
// network byte order; the port is held as a host-order uint16.
type AddrPort struct {
	addr [4]byte
	port uint16
}

// New builds an AddrPort from a 4-byte IPv4 address and a host-order port.
func New(ip [4]byte, port uint16) AddrPort {
	return AddrPort{addr: ip, port: port}
}

// FromTCPAddr extracts an AddrPort from a *net.TCPAddr, returning an error
// if the address is not IPv4.
func FromTCPAddr(a *net.TCPAddr) (AddrPort, error) {
	ip4 := a.IP.To4()
	if ip4 == nil {
		return AddrPort{}, fmt.Errorf("addrport: %s is not an IPv4 address", a.IP)
	}
	var b [4]byte
	copy(b[:], ip4)
	return New(b, uint16(a.Port)), nil
}

// IP returns the address bytes.
func (a AddrPort) IP() [4]byte { return a.addr }

// Port returns the port.
func (a AddrPort) Port() uint16 { return a.port }

// CmpID returns a stable id (address in the high bits, port in the low
// bits) used only for deterministic ordering, never for hashing — two
// AddrPorts with the same address+port always compare equal, but CmpID
// is not a good hash input (its low 16 bits are just the port).
func (a AddrPort) CmpID() uint64 {
	addrBits := uint64(binary.BigEndian.Uint32(a.addr[:]))
	return addrBits<<16 | uint64(a.port)
}

// Less orders two AddrPorts by CmpID, for deterministic iteration over a
// set of peers (e.g. node registry membership lists).
func (a AddrPort) Less(b AddrPort) bool {
	return a.CmpID() < b.CmpID()
}

func (a AddrPort) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.addr[0], a.addr[1], a.addr[2], a.addr[3], a.port)
}
