// Package advertising encodes and decodes BLE link-layer advertising PDUs
// and the AD structures (length/type/value) they carry.
package advertising

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PDU types
const (
	PDUTypeAdvInd        = 0x00 // Connectable undirected advertising
	PDUTypeAdvNonconnInd = 0x02 // Non-connectable undirected advertising
	PDUTypeScanRsp       = 0x04 // Scan response
)

// AD types
const (
	ADTypeFlags                        = 0x01
	ADTypeIncomplete128BitServiceUUIDs = 0x06
	ADTypeComplete128BitServiceUUIDs   = 0x07
	ADTypeShortenedLocalName           = 0x08
	ADTypeCompleteLocalName            = 0x09
)

// Flags
const (
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

const (
	MaxAdvertisingDataLen = 31 // BLE 4.x advertising data limit
	AddressLen            = 6
)

var ErrTooLong = errors.New("advertising data too long")

// PDU is one advertising channel packet:
// [type: 1][length: 1][AdvA: 6][AdvData: 0-31]
type PDU struct {
	Type    byte
	AdvA    [AddressLen]byte
	AdvData []byte
}

// ADStructure is a single TLV in advertising data. On the air its length
// byte counts the type byte plus the data.
type ADStructure struct {
	Type byte
	Data []byte
}

// Report is what an active scanner learns from an advertiser
type Report struct {
	Address      [AddressLen]byte
	LocalName    string
	ServiceUUIDs []uuid.UUID
}

func (p *PDU) Encode() ([]byte, error) {
	if len(p.AdvData) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(p.AdvData))
	}

	buf := make([]byte, 2+AddressLen+len(p.AdvData))
	buf[0] = p.Type
	buf[1] = byte(AddressLen + len(p.AdvData))
	copy(buf[2:2+AddressLen], p.AdvA[:])
	copy(buf[2+AddressLen:], p.AdvData)
	return buf, nil
}

func DecodePDU(data []byte) (*PDU, error) {
	if len(data) < 2+AddressLen {
		return nil, fmt.Errorf("advertising PDU too short: %d bytes", len(data))
	}

	n := int(data[1])
	if n < AddressLen {
		return nil, fmt.Errorf("invalid payload length %d", n)
	}
	if len(data) < 2+n {
		return nil, fmt.Errorf("advertising PDU truncated: expected %d bytes, got %d", 2+n, len(data))
	}
	if n-AddressLen > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, n-AddressLen)
	}

	p := &PDU{Type: data[0]}
	copy(p.AdvA[:], data[2:2+AddressLen])
	if n > AddressLen {
		p.AdvData = append([]byte(nil), data[2+AddressLen:2+n]...)
	}
	return p, nil
}

func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte
	for _, s := range structures {
		if 1+len(s.Data) > 255 {
			return nil, fmt.Errorf("%w: AD structure of %d bytes", ErrTooLong, len(s.Data))
		}
		buf = append(buf, byte(1+len(s.Data)), s.Type)
		buf = append(buf, s.Data...)
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(buf))
	}
	return buf, nil
}

// DecodeADStructures stops at the first zero length byte (padding)
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var out []ADStructure
	for offset := 0; offset < len(data); {
		n := int(data[offset])
		if n == 0 {
			break
		}
		offset++
		if offset+n > len(data) {
			return nil, fmt.Errorf("AD structure length %d exceeds remaining %d bytes", n, len(data)-offset)
		}
		out = append(out, ADStructure{
			Type: data[offset],
			Data: append([]byte(nil), data[offset+1:offset+n]...),
		})
		offset += n
	}
	return out, nil
}

func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{Type: ADTypeFlags, Data: []byte{flags}}
}

// NewLocalNameAD shortens name to fit max bytes of data
func NewLocalNameAD(name string, max int) ADStructure {
	if len(name) <= max {
		return ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(name)}
	}
	return ADStructure{Type: ADTypeShortenedLocalName, Data: []byte(name[:max])}
}

// NewServiceUUIDAD encodes u in the little-endian order used on the air
func NewServiceUUIDAD(u uuid.UUID) ADStructure {
	data := make([]byte, 16)
	for i := 0; i < 16; i++ {
		data[i] = u[15-i]
	}
	return ADStructure{Type: ADTypeComplete128BitServiceUUIDs, Data: data}
}

func LocalName(structures []ADStructure) string {
	for _, s := range structures {
		if s.Type == ADTypeCompleteLocalName || s.Type == ADTypeShortenedLocalName {
			return string(s.Data)
		}
	}
	return ""
}

func ServiceUUIDs(structures []ADStructure) []uuid.UUID {
	var out []uuid.UUID
	for _, s := range structures {
		if s.Type != ADTypeComplete128BitServiceUUIDs && s.Type != ADTypeIncomplete128BitServiceUUIDs {
			continue
		}
		if len(s.Data)%16 != 0 {
			continue
		}
		for i := 0; i < len(s.Data); i += 16 {
			var u uuid.UUID
			for j := 0; j < 16; j++ {
				u[j] = s.Data[i+15-j]
			}
			out = append(out, u)
		}
	}
	return out
}

// Build returns the ADV_IND and SCAN_RSP packets for a device advertising
// one service. The name goes in the scan response, where it has room.
func Build(addr [AddressLen]byte, name string, service uuid.UUID) (adv, scanRsp []byte, err error) {
	advData, err := EncodeADStructures([]ADStructure{
		NewFlagsAD(FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported),
		NewServiceUUIDAD(service),
	})
	if err != nil {
		return nil, nil, err
	}
	rspData, err := EncodeADStructures([]ADStructure{
		NewLocalNameAD(name, MaxAdvertisingDataLen-2),
	})
	if err != nil {
		return nil, nil, err
	}

	adv, err = (&PDU{Type: PDUTypeAdvInd, AdvA: addr, AdvData: advData}).Encode()
	if err != nil {
		return nil, nil, err
	}
	scanRsp, err = (&PDU{Type: PDUTypeScanRsp, AdvA: addr, AdvData: rspData}).Encode()
	if err != nil {
		return nil, nil, err
	}
	return adv, scanRsp, nil
}

// Parse merges an advertising packet with its optional scan response
func Parse(adv, scanRsp []byte) (*Report, error) {
	pdu, err := DecodePDU(adv)
	if err != nil {
		return nil, err
	}
	if pdu.Type != PDUTypeAdvInd && pdu.Type != PDUTypeAdvNonconnInd {
		return nil, fmt.Errorf("not an advertising packet: %s", PDUTypeName(pdu.Type))
	}
	structures, err := DecodeADStructures(pdu.AdvData)
	if err != nil {
		return nil, err
	}

	if len(scanRsp) > 0 {
		rsp, err := DecodePDU(scanRsp)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if rsp.Type != PDUTypeScanRsp || rsp.AdvA != pdu.AdvA {
			return nil, errors.New("scan response does not belong to advertiser")
		}
		more, err := DecodeADStructures(rsp.AdvData)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		structures = append(structures, more...)
	}

	return &Report{
		Address:      pdu.AdvA,
		LocalName:    LocalName(structures),
		ServiceUUIDs: ServiceUUIDs(structures),
	}, nil
}

func PDUTypeName(t byte) string {
	switch t {
	case PDUTypeAdvInd:
		return "ADV_IND"
	case PDUTypeAdvNonconnInd:
		return "ADV_NONCONN_IND"
	case PDUTypeScanRsp:
		return "SCAN_RSP"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", t)
	}
}
