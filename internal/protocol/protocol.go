package protocol

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants
const (
	// Packet types
	PacketTypeAudio     = 0x01
	PacketTypeKeepalive = 0x02

	// Sample formats
	FormatS16LE = 0x01 // signed 16-bit little-endian PCM

	// Packet structure sizes
	HeaderSize     = 8 // 1 + 2 + 4 + 1 bytes
	MaxPacketSize  = 65535
	MaxPayloadSize = MaxPacketSize - HeaderSize
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][Sequence:4][Format:1]
type Header struct {
	PacketType uint8  // 0x01=Audio, 0x02=Keepalive
	PacketLen  uint16 // Total packet size (header + payload)
	Sequence   uint32 // Per-sender sequence number
	Format     uint8  // 0x01=S16LE
}

// Packet represents a fully parsed packet
type Packet struct {
	Header *Header
	PCM    []byte // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		Sequence:   binary.BigEndian.Uint32(data[3:7]),
		Format:     data[7],
	}

	return header, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate packet length matches actual data
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &Packet{Header: header}

	if header.PacketType == PacketTypeAudio {
		packet.PCM = make([]byte, len(data)-HeaderSize)
		copy(packet.PCM, data[HeaderSize:])
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidFormat(header.Format) {
		return fmt.Errorf("invalid format: 0x%02x", header.Format)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeAudio:
		if payloadSize == 0 {
			return fmt.Errorf("audio packet has no samples")
		}
		if payloadSize%2 != 0 {
			return fmt.Errorf("audio payload must be whole 16-bit samples, got %d bytes", payloadSize)
		}
	case PacketTypeKeepalive:
		if payloadSize != 0 {
			return fmt.Errorf("keepalive packet must have no payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeAudio || ptype == PacketTypeKeepalive
}

// IsValidFormat checks if the sample format is supported
func IsValidFormat(format uint8) bool {
	return format == FormatS16LE
}

// BuildAudioPacket frames little-endian PCM-16 bytes as an audio packet
func BuildAudioPacket(sequence uint32, pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("audio packet has no samples")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio payload must be whole 16-bit samples, got %d bytes", len(pcm))
	}
	if len(pcm) > MaxPayloadSize {
		return nil, fmt.Errorf("audio payload too large: %d bytes (maximum %d)", len(pcm), MaxPayloadSize)
	}

	packet := make([]byte, HeaderSize+len(pcm))
	putHeader(packet, PacketTypeAudio, sequence)
	copy(packet[HeaderSize:], pcm)
	return packet, nil
}

// BuildKeepalivePacket returns a header-only keepalive packet
func BuildKeepalivePacket(sequence uint32) []byte {
	packet := make([]byte, HeaderSize)
	putHeader(packet, PacketTypeKeepalive, sequence)
	return packet
}

func putHeader(packet []byte, ptype uint8, sequence uint32) {
	packet[0] = ptype
	binary.BigEndian.PutUint16(packet[1:3], uint16(len(packet)))
	binary.BigEndian.PutUint32(packet[3:7], sequence)
	packet[7] = FormatS16LE
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType, format string

	switch h.PacketType {
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeKeepalive:
		packetType = "Keepalive"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	switch h.Format {
	case FormatS16LE:
		format = "S16LE"
	default:
		format = fmt.Sprintf("Unknown(0x%02x)", h.Format)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, Sequence:%d, Format:%s}",
		packetType, h.PacketLen, h.Sequence, format)
}

// NumSamples returns the number of 16-bit samples carried by the packet
func (p *Packet) NumSamples() int {
	return len(p.PCM) / 2
}
