package protocol

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
)

// FlowHash computes a direction-symmetric hash of a raw Ethernet frame's
// 5-tuple without fully decoding it. The pipeline uses it to partition frames
// across workers so that every packet of a flow, in either direction, lands
// on the same worker. Frames whose tuple cannot be extracted hash over the
// whole payload instead; the value is only a partition choice, so collisions
// and fallbacks are harmless.
//
// Every offset is bounds-checked before use: the input is untrusted and this
// runs before the defensive full decode.
func FlowHash(data []byte) uint32 {
	if srcIP, dstIP, srcPort, dstPort, proto, ok := extractTuple(data); ok {
		var buf [37]byte
		// Canonical endpoint order, matching model.NewFlowKey.
		if bytes.Compare(srcIP, dstIP) < 0 || (bytes.Equal(srcIP, dstIP) && srcPort <= dstPort) {
			packTuple(buf[:], srcIP, srcPort, dstIP, dstPort, proto)
		} else {
			packTuple(buf[:], dstIP, dstPort, srcIP, srcPort, proto)
		}
		h := fnv.New32a()
		h.Write(buf[:])
		return h.Sum32()
	}
	h := fnv.New32a()
	h.Write(data)
	return h.Sum32()
}

func packTuple(buf []byte, aIP []byte, aPort uint16, bIP []byte, bPort uint16, proto byte) {
	n := copy(buf, aIP)
	binary.BigEndian.PutUint16(buf[n:], aPort)
	n += 2
	n += copy(buf[n:], bIP)
	binary.BigEndian.PutUint16(buf[n:], bPort)
	n += 2
	buf[n] = proto
}

func extractTuple(data []byte) (srcIP, dstIP []byte, srcPort, dstPort uint16, proto byte, ok bool) {
	const ethHeaderLen = 14
	if len(data) < ethHeaderLen {
		return
	}
	etherType := binary.BigEndian.Uint16(data[12:14])
	off := ethHeaderLen

	// Skip up to two VLAN tags.
	for i := 0; i < 2 && (etherType == 0x8100 || etherType == 0x88a8); i++ {
		if len(data) < off+4 {
			return
		}
		etherType = binary.BigEndian.Uint16(data[off+2 : off+4])
		off += 4
	}

	switch etherType {
	case 0x0800: // IPv4
		if len(data) < off+20 {
			return
		}
		ihl := int(data[off]&0x0f) * 4
		if ihl < 20 || len(data) < off+ihl {
			return
		}
		proto = data[off+9]
		srcIP = data[off+12 : off+16]
		dstIP = data[off+16 : off+20]
		srcPort, dstPort = transportPorts(data[off+ihl:], proto)
		ok = true
	case 0x86dd: // IPv6
		if len(data) < off+40 {
			return
		}
		proto = data[off+6]
		srcIP = data[off+8 : off+24]
		dstIP = data[off+24 : off+40]
		srcPort, dstPort = transportPorts(data[off+40:], proto)
		ok = true
	}
	return
}

func transportPorts(rest []byte, proto byte) (src, dst uint16) {
	if (proto == 6 || proto == 17) && len(rest) >= 4 {
		src = binary.BigEndian.Uint16(rest[0:2])
		dst = binary.BigEndian.Uint16(rest[2:4])
	}
	return
}
