package signing

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	PolygonChainID int64 = 137
	AmoyChainID    int64 = 80002
)

// Contracts are the exchange contracts that verify order signatures on a chain.
type Contracts struct {
	Exchange        common.Address
	NegRiskExchange common.Address
}

var contractsByChain = map[int64]Contracts{
	PolygonChainID: {
		Exchange:        common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),
		NegRiskExchange: common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a"),
	},
	AmoyChainID: {
		Exchange:        common.HexToAddress("0xdFE02Eb6733538f8Ea35D585af8DE5958AD99E40"),
		NegRiskExchange: common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a"),
	},
}

// ContractsFor returns the exchange contracts deployed on chainID.
func ContractsFor(chainID int64) (Contracts, error) {
	c, ok := contractsByChain[chainID]
	if !ok {
		return Contracts{}, fmt.Errorf("no exchange contracts known for chain %d", chainID)
	}
	return c, nil
}

// VerifyingContract picks the contract an order is signed for.
func (c Contracts) VerifyingContract(negRisk bool) common.Address {
	if negRisk {
		return c.NegRiskExchange
	}
	return c.Exchange
}
