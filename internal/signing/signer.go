// Package signing produces EIP-712 signatures for exchange orders and API authentication.
package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/daszybak/polytrader/internal/order"
)

// ErrSigning is fatal for the order it was returned for.
var ErrSigning = errors.New("signing failed")

const (
	orderDomainName    = "Polymarket CTF Exchange"
	orderDomainVersion = "1"
)

// maxSalt keeps salts exactly representable as JSON numbers.
var maxSalt = new(big.Int).Lsh(big.NewInt(1), 53)

var eip712DomainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var orderType = []apitypes.Type{
	{Name: "salt", Type: "uint256"},
	{Name: "maker", Type: "address"},
	{Name: "signer", Type: "address"},
	{Name: "taker", Type: "address"},
	{Name: "tokenId", Type: "uint256"},
	{Name: "makerAmount", Type: "uint256"},
	{Name: "takerAmount", Type: "uint256"},
	{Name: "expiration", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "feeRateBps", Type: "uint256"},
	{Name: "side", Type: "uint8"},
	{Name: "signatureType", Type: "uint8"},
}

// Signer signs orders offline with a secp256k1 key.
type Signer struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	contracts Contracts
	salt      func() (int64, error)
}

type Option func(*Signer)

// WithContracts overrides the exchange contracts looked up from the chain id.
func WithContracts(c Contracts) Option {
	return func(s *Signer) {
		s.contracts = c
	}
}

// WithSaltSource replaces the random salt generator.
func WithSaltSource(fn func() (int64, error)) Option {
	return func(s *Signer) {
		s.salt = fn
	}
}

func New(key *ecdsa.PrivateKey, chainID int64, opts ...Option) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: missing private key", ErrSigning)
	}

	s := &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		salt:    randomSalt,
	}
	if c, err := ContractsFor(chainID); err == nil {
		s.contracts = c
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.contracts.Exchange == (common.Address{}) {
		return nil, fmt.Errorf("%w: no exchange contracts for chain %d", ErrSigning, chainID)
	}
	return s, nil
}

// Address returns the address of the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) ChainID() int64 {
	return s.chainID.Int64()
}

// Sign salts a copy of o and signs it. o itself is not modified.
func (s *Signer) Sign(o order.UnsignedOrder) (order.SignedOrder, error) {
	if o.Signer != s.address {
		return order.SignedOrder{}, fmt.Errorf("%w: order signer %s doesn't match key address %s", ErrSigning, o.Signer.Hex(), s.address.Hex())
	}

	salt, err := s.salt()
	if err != nil {
		return order.SignedOrder{}, fmt.Errorf("%w: couldn't generate salt: %w", ErrSigning, err)
	}
	o.Salt = salt

	hash, err := s.HashOrder(o)
	if err != nil {
		return order.SignedOrder{}, err
	}

	sig, err := s.signHash(hash)
	if err != nil {
		return order.SignedOrder{}, err
	}

	return order.SignedOrder{
		UnsignedOrder: o,
		Signature:     sig,
		Hash:          hash,
	}, nil
}

// HashOrder returns the EIP-712 digest of o as it is, salt included.
func (s *Signer) HashOrder(o order.UnsignedOrder) (common.Hash, error) {
	tokenID, err := o.TokenIDInt()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainType,
			"Order":        orderType,
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              orderDomainName,
			Version:           orderDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(s.chainID),
			VerifyingContract: s.contracts.VerifyingContract(o.NegRisk).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          fmt.Sprintf("%d", o.Salt),
			"maker":         o.Maker.Hex(),
			"signer":        o.Signer.Hex(),
			"taker":         o.Taker.Hex(),
			"tokenId":       tokenID.String(),
			"makerAmount":   fmt.Sprintf("%d", o.MakerAmount),
			"takerAmount":   fmt.Sprintf("%d", o.TakerAmount),
			"expiration":    fmt.Sprintf("%d", o.Expiration),
			"nonce":         fmt.Sprintf("%d", o.Nonce),
			"feeRateBps":    fmt.Sprintf("%d", o.FeeRateBps),
			"side":          fmt.Sprintf("%d", o.Side),
			"signatureType": fmt.Sprintf("%d", o.SignatureType),
		},
	}

	return typedDataHash(typedData)
}

// Recover returns the address that produced the signature of o.
func (s *Signer) Recover(o order.SignedOrder) (common.Address, error) {
	hash, err := s.HashOrder(o.UnsignedOrder)
	if err != nil {
		return common.Address{}, err
	}
	if hash != o.Hash {
		return common.Address{}, fmt.Errorf("order hash %s doesn't match its fields", o.Hash.Hex())
	}
	return RecoverAddress(hash, o.Signature)
}

func (s *Signer) signHash(hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	// Contracts expect V in {27, 28}.
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func typedDataHash(typedData apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: couldn't hash domain: %w", ErrSigning, err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: couldn't hash message: %w", ErrSigning, err)
	}

	// keccak256("\x19\x01" || domainSeparator || messageHash)
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256Hash(raw), nil
}

// RecoverAddress recovers the signer of hash from a 65 byte signature with V in {27, 28}.
func RecoverAddress(hash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("couldn't recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func randomSalt() (int64, error) {
	n, err := rand.Int(rand.Reader, maxSalt)
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}
