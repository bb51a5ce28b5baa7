package protocol

import (
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
)

var (
	ErrKeyType = errors.New("identity key is not a private EC key")
)

// Identity binds the local node address to its signing key.
type Identity struct {
	address Address
	key     *ecdsa.PrivateKey
}

// NewIdentity creates an identity from an address and a private key. The key
// may be an *ecdsa.PrivateKey or PKCS#8 DER bytes.
//
// When the address has an external component only that component is kept,
// which keeps the greeting and the stamped source as short as possible.
func NewIdentity(addr Address, key any) (*Identity, error) {
	ecKey, err := toECDSAKey(key)
	if err != nil {
		return nil, err
	}

	if external, ok := addr.External(); ok {
		addr = Address{internal: external}
	}

	return &Identity{
		address: addr,
		key:     ecKey,
	}, nil
}

// ParseIdentity is NewIdentity with a textual address.
func ParseIdentity(text string, key any) (*Identity, error) {
	addr, err := ParseAddress(text)
	if err != nil {
		return nil, err
	}
	return NewIdentity(addr, key)
}

func toECDSAKey(key any) (*ecdsa.PrivateKey, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		if k == nil {
			return nil, ErrKeyType
		}
		return k, nil
	case []byte:
		parsed, err := x509.ParsePKCS8PrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyType, err)
		}
		ecKey, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrKeyType, parsed)
		}
		return ecKey, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrKeyType, key)
	}
}

// Address returns the normalized local address.
func (id *Identity) Address() Address {
	return id.address
}

// SigningKey returns the private key used to sign frames.
func (id *Identity) SigningKey() *ecdsa.PrivateKey {
	return id.key
}

// PublicKey returns the public half of the signing key.
func (id *Identity) PublicKey() *ecdsa.PublicKey {
	return &id.key.PublicKey
}
