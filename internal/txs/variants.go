package txs

import "encoding/json"

type EvmTransaction struct {
	Base
	IsApprovalTx         bool    `json:"isApprovalTx"`
	From                 *string `json:"from"`
	To                   string  `json:"to"`
	Data                 *string `json:"data"`
	Value                *string `json:"value"`
	Nonce                *string `json:"nonce"`
	GasLimit             *string `json:"gasLimit"`
	GasPrice             *string `json:"gasPrice"`
	MaxPriorityFeePerGas *string `json:"maxPriorityFeePerGas"`
	MaxFeePerGas         *string `json:"maxFeePerGas"`
}

func (t EvmTransaction) IsApproval() bool { return t.IsApprovalTx }

type CosmosCoin struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

type CosmosFee struct {
	Amount []CosmosCoin `json:"amount"`
	Gas    string       `json:"gas"`
}

// CosmosMessage keeps msgs opaque; their shapes depend on the target module.
type CosmosMessage struct {
	SignType      string            `json:"signType"`
	Sequence      *string           `json:"sequence"`
	Source        *int64            `json:"source"`
	AccountNumber *int64            `json:"account_number"`
	RPCURL        string            `json:"rpcUrl"`
	ChainID       *string           `json:"chainId"`
	Msgs          []json.RawMessage `json:"msgs"`
	ProtoMsgs     []json.RawMessage `json:"protoMsgs"`
	Memo          *string           `json:"memo"`
	Fee           *CosmosFee        `json:"fee"`
}

type AssetWithTicker struct {
	Blockchain string  `json:"blockchain"`
	Symbol     string  `json:"symbol"`
	Address    *string `json:"address"`
	Ticker     string  `json:"ticker"`
}

type CosmosRawTransferData struct {
	Amount    string          `json:"amount"`
	Asset     AssetWithTicker `json:"asset"`
	Decimals  int             `json:"decimals"`
	Memo      *string         `json:"memo"`
	Method    string          `json:"method"`
	Recipient string          `json:"recipient"`
}

type CosmosTransaction struct {
	Base
	FromWalletAddress string                 `json:"fromWalletAddress"`
	Data              CosmosMessage          `json:"data"`
	RawTransfer       *CosmosRawTransferData `json:"rawTransfer"`
}

type SolanaSignature struct {
	Signature []int  `json:"signature"`
	PublicKey string `json:"publicKey"`
}

type SolanaInstructionKey struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type SolanaInstruction struct {
	Keys      []SolanaInstructionKey `json:"keys"`
	ProgramID string                 `json:"programId"`
	Data      []int                  `json:"data"`
}

const (
	SolanaTxLegacy    = "LEGACY"
	SolanaTxVersioned = "VERSIONED"
)

type SolanaTransaction struct {
	Base
	TxType            string              `json:"txType"`
	From              string              `json:"from"`
	Identifier        string              `json:"identifier"`
	RecentBlockhash   *string             `json:"recentBlockhash"`
	Signatures        []SolanaSignature   `json:"signatures"`
	SerializedMessage []int               `json:"serializedMessage"`
	Instructions      []SolanaInstruction `json:"instructions"`
}

type TransferTransaction struct {
	Base
	Method            string          `json:"method"`
	Asset             AssetWithTicker `json:"asset"`
	Amount            string          `json:"amount"`
	Decimals          int             `json:"decimals"`
	FromWalletAddress string          `json:"fromWalletAddress"`
	RecipientAddress  string          `json:"recipientAddress"`
	Memo              *string         `json:"memo"`
}

type TronRawData struct {
	Contract      []json.RawMessage `json:"contract"`
	RefBlockBytes string            `json:"ref_block_bytes"`
	RefBlockHash  string            `json:"ref_block_hash"`
	Expiration    int64             `json:"expiration"`
	Timestamp     int64             `json:"timestamp"`
}

type TronTransaction struct {
	Base
	IsApprovalTx bool            `json:"isApprovalTx"`
	RawData      *TronRawData    `json:"raw_data"`
	RawDataHex   string          `json:"raw_data_hex"`
	TxID         string          `json:"txID"`
	Visible      bool            `json:"visible"`
	Payload      json.RawMessage `json:"__payload__,omitempty"`
}

func (t TronTransaction) IsApproval() bool { return t.IsApprovalTx }

type StarknetCall struct {
	ContractAddress string   `json:"contractAddress"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

type StarknetTransaction struct {
	Base
	IsApprovalTx bool           `json:"isApprovalTx"`
	Calls        []StarknetCall `json:"calls"`
}

func (t StarknetTransaction) IsApproval() bool { return t.IsApprovalTx }

type SuiTransaction struct {
	Base
	UnsignedPtbBase64 string `json:"unsignedPbtBase64"`
}

const (
	TonMainnet = "-239"
	TonTestnet = "-3"
)

type TonMessage struct {
	Address   string  `json:"address"`
	Amount    string  `json:"amount"`
	StateInit *string `json:"stateInit,omitempty"`
	Payload   *string `json:"payload,omitempty"`
}

type TonTransaction struct {
	Base
	ValidUntil int64        `json:"validUntil"`
	Network    string       `json:"network,omitempty"`
	From       string       `json:"from,omitempty"`
	Messages   []TonMessage `json:"messages"`
}

type MoveTransaction struct {
	Base
	TransactionData string `json:"transactionData"`
}

// XrplTransaction carries a Payment or TrustSet object verbatim.
type XrplTransaction struct {
	Base
	Data json.RawMessage `json:"data"`
}
