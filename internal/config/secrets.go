package config

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey wraps a secp256k1 *ecdsa.PrivateKey and implements yaml.Unmarshaler
// to decode from a hex string, with or without the 0x prefix.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// UnmarshalYAML decodes a hex-encoded private key. An empty value leaves the key unset.
func (k *PrivateKey) UnmarshalYAML(unmarshal func(any) error) error {
	var encoded string
	if err := unmarshal(&encoded); err != nil {
		return err
	}

	if encoded == "" {
		return nil
	}

	key, err := ParsePrivateKey(encoded)
	if err != nil {
		return err
	}

	k.PrivateKey = key
	return nil
}

// Address returns the address controlled by the key, or the zero address when unset.
func (k PrivateKey) Address() common.Address {
	if k.PrivateKey == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(k.PublicKey)
}

// String never prints key material.
func (k PrivateKey) String() string {
	if k.PrivateKey == nil {
		return "<unset>"
	}
	return "<redacted " + k.Address().Hex() + ">"
}

// ParsePrivateKey decodes a hex secp256k1 private key.
func ParsePrivateKey(encoded string) (*ecdsa.PrivateKey, error) {
	encoded = strings.TrimPrefix(strings.TrimSpace(encoded), "0x")
	key, err := crypto.HexToECDSA(encoded)
	if err != nil {
		// Don't wrap the underlying error, it may echo the input.
		return nil, fmt.Errorf("decode private key: invalid secp256k1 hex key")
	}
	return key, nil
}
