package signing

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	clobAuthDomainName    = "ClobAuthDomain"
	clobAuthDomainVersion = "1"
	clobAuthMessage       = "This message attests that I control the given wallet"
)

// L1Headers authenticate requests that create or derive API credentials.
type L1Headers struct {
	Address   string
	Signature string
	Timestamp string
	Nonce     string
}

// SignClobAuth signs the wallet ownership attestation used for L1 authentication.
func (s *Signer) SignClobAuth(timestamp int64, nonce uint64) (L1Headers, error) {
	ts := strconv.FormatInt(timestamp, 10)
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    clobAuthDomainName,
			Version: clobAuthDomainVersion,
			ChainId: (*math.HexOrDecimal256)(s.chainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   s.address.Hex(),
			"timestamp": ts,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   clobAuthMessage,
		},
	}

	hash, err := typedDataHash(typedData)
	if err != nil {
		return L1Headers{}, err
	}
	sig, err := s.signHash(hash)
	if err != nil {
		return L1Headers{}, err
	}

	return L1Headers{
		Address:   s.address.Hex(),
		Signature: "0x" + fmt.Sprintf("%x", sig),
		Timestamp: ts,
		Nonce:     strconv.FormatUint(nonce, 10),
	}, nil
}
