package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

const erc875ABIJSON = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"bytes32[]"}],"stateMutability":"view","type":"function"}
]`

const erc721ForTicketsABIJSON = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"getBalances","outputs":[{"name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

const erc721ABIJSON = `[
{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const erc1155ABIJSON = `[
{"constant":true,"inputs":[{"name":"id","type":"uint256"}],"name":"uri","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"accounts","type":"address[]"},{"name":"ids","type":"uint256[]"}],"name":"balanceOfBatch","outputs":[{"name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

var (
	erc20ABI            = mustParseABI(erc20ABIJSON)
	erc875ABI           = mustParseABI(erc875ABIJSON)
	erc721ForTicketsABI = mustParseABI(erc721ForTicketsABIJSON)
	erc721ABI           = mustParseABI(erc721ABIJSON)
	erc1155ABI          = mustParseABI(erc1155ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("contract: invalid abi: " + err.Error())
	}
	return parsed
}
