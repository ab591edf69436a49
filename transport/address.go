package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a bus individual address (area.line.device).
type Address uint16

// NewAddress builds an address from its parts. area and line are 4 bits wide.
func NewAddress(area, line, device byte) Address {
	return Address(uint16(area&0x0F)<<12 | uint16(line&0x0F)<<8 | uint16(device))
}

// ParseAddress parses the dotted form "1.1.15".
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid address %q: expected area.line.device", s)
	}
	limits := []uint64{15, 15, 255}
	var v [3]byte
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil || n > limits[i] {
			return 0, fmt.Errorf("invalid address %q", s)
		}
		v[i] = byte(n)
	}
	return NewAddress(v[0], v[1], v[2]), nil
}

// Area returns the area part of the address.
func (a Address) Area() byte { return byte(a >> 12) }

// Line returns the line part of the address.
func (a Address) Line() byte { return byte(a>>8) & 0x0F }

// Device returns the device part of the address.
func (a Address) Device() byte { return byte(a) }

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Area(), a.Line(), a.Device())
}

// Priority is the bus priority of telegrams sent to a destination.
type Priority int

const (
	PrioritySystem Priority = iota
	PriorityNormal
	PriorityUrgent
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PrioritySystem:
		return "system"
	case PriorityNormal:
		return "normal"
	case PriorityUrgent:
		return "urgent"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses the names returned by Priority.String.
func ParsePriority(s string) (Priority, error) {
	for p := PrioritySystem; p <= PriorityLow; p++ {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid priority %q", s)
}

// Destination is a connection-oriented endpoint on the bus.
type Destination struct {
	Address  Address
	Priority Priority
}

// NewDestination returns a destination for addr.
func NewDestination(addr Address, priority Priority) Destination {
	return Destination{Address: addr, Priority: priority}
}

func (d Destination) String() string {
	return fmt.Sprintf("%s (%s)", d.Address, d.Priority)
}
