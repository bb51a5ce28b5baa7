package keystore

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ZentaChain/gerti-client/pkg/crypto"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

// recordHeaderSize is the address plus the u16 key length.
const recordHeaderSize = protocol.AddressSize + 2

func readFile(path string) (map[string]*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key store %s: %w", path, err)
	}
	return ParseRecords(data)
}

// ParseRecords decodes a complete key-store image.
func ParseRecords(data []byte) (map[string]*ecdsa.PublicKey, error) {
	keys := make(map[string]*ecdsa.PublicKey)

	offset := 0
	for offset < len(data) {
		if len(data)-offset < recordHeaderSize {
			return nil, fmt.Errorf("%w: record header at offset %d runs past end", ErrCorruptStore, offset)
		}

		addr, err := protocol.DecodeAddress(data[offset : offset+protocol.AddressSize])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
		}
		keyLen := int(binary.BigEndian.Uint16(data[offset+protocol.AddressSize:]))
		offset += recordHeaderSize

		if len(data)-offset < keyLen {
			return nil, fmt.Errorf("%w: key for %s declares %d bytes, %d left", ErrCorruptStore, addr, keyLen, len(data)-offset)
		}

		key, err := crypto.ParsePublicKey(data[offset : offset+keyLen])
		if err != nil {
			return nil, fmt.Errorf("%w: key for %s: %v", ErrCorruptStore, addr, err)
		}
		offset += keyLen

		keys[addr.Key()] = key
	}

	return keys, nil
}

// EncodeRecord builds one key-store record. Only the address lookup key is
// written, so a full address is stored as its external component.
func EncodeRecord(addr protocol.Address, key *ecdsa.PublicKey) ([]byte, error) {
	der, err := crypto.MarshalPublicKey(key)
	if err != nil {
		return nil, err
	}
	if len(der) > 0xFFFF {
		return nil, fmt.Errorf("public key too large: %d bytes", len(der))
	}

	stored := addr.Internal()
	if ext, ok := addr.External(); ok {
		stored = ext
	}

	buf := make([]byte, recordHeaderSize, recordHeaderSize+len(der))
	copy(buf, stored.Bytes())
	binary.BigEndian.PutUint16(buf[protocol.AddressSize:], uint16(len(der)))
	return append(buf, der...), nil
}

// AppendRecord appends one record to the key-store file at path, creating
// it if needed.
func AppendRecord(path string, addr protocol.Address, key *ecdsa.PublicKey) error {
	record, err := EncodeRecord(addr, key)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open key store %s: %w", path, err)
	}

	if _, err := f.Write(record); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to key store %s: %w", path, err)
	}
	return f.Close()
}
