package registry

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20MinimalABI covers the allowance calls carried by approval transactions.
const ERC20MinimalABI = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var erc20ABI = sync.OnceValue(func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ERC20MinimalABI))
	if err != nil {
		panic("registry: invalid ERC20 abi: " + err.Error())
	}
	return parsed
})

// ERC20ABI returns the parsed ERC20MinimalABI.
func ERC20ABI() abi.ABI { return erc20ABI() }
