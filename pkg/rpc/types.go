package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// MarshalJSON emits exactly one of result and error. A nil or zero result
// is still written on success.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string      `json:"jsonrpc"`
			ID      interface{} `json:"id"`
			Error   *RPCError   `json:"error"`
		}{r.JSONRPC, r.ID, r.Error})
	}
	return json.Marshal(struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      interface{} `json:"id"`
		Result  interface{} `json:"result"`
	}{r.JSONRPC, r.ID, r.Result})
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account and transaction data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// SendTransactionConfig configures sendTransaction and simulateTransaction.
type SendTransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SignaturesConfig configures getSignaturesForAddress.
type SignaturesConfig struct {
	Limit  int    `json:"limit,omitempty"`
	Before string `json:"before,omitempty"`
}

// AccountInfo is the JSON view of an account.
type AccountInfo struct {
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	Data       interface{} `json:"data"`
	Executable bool        `json:"executable"`
	RentEpoch  uint64      `json:"rentEpoch"`
	Space      uint64      `json:"space"`
}

// FundraiserInfo is the decoded campaign record plus its live vault.
type FundraiserInfo struct {
	Address       string `json:"address"`
	Bump          uint8  `json:"bump"`
	Maker         string `json:"maker"`
	Mint          string `json:"mint"`
	AmountToRaise uint64 `json:"amountToRaise"`
	CurrentAmount uint64 `json:"currentAmount"`
	TimeStarted   int64  `json:"timeStarted"`
	Duration      uint8  `json:"duration"`
	Deadline      int64  `json:"deadline"`
	Expired       bool   `json:"expired"`
	Vault         string `json:"vault"`
	VaultBalance  uint64 `json:"vaultBalance"`
}

// ContributorInfo is the decoded contributor record.
type ContributorInfo struct {
	Address     string `json:"address"`
	Bump        uint8  `json:"bump"`
	Fundraiser  string `json:"fundraiser"`
	Contributor string `json:"contributor"`
	Amount      uint64 `json:"amount"`
}

// TransactionStatus is the error part of a receipt.
type TransactionStatus struct {
	Err  string `json:"err,omitempty"`
	Code uint32 `json:"code,omitempty"`
}

// TransactionInfo is the JSON view of a journal receipt.
type TransactionInfo struct {
	Signature       string             `json:"signature"`
	Slot            uint64             `json:"slot"`
	BlockTime       int64              `json:"blockTime"`
	Err             *TransactionStatus `json:"err"`
	ComputeUnits    uint64             `json:"computeUnitsConsumed"`
	LogMessages     []string           `json:"logMessages"`
	AccountKeys     []string           `json:"accountKeys"`
	ReceiptHash     string             `json:"receiptHash"`
	PrevReceiptHash string             `json:"prevReceiptHash"`
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	BlockTime int64       `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// SimulateResult is the value of simulateTransaction.
type SimulateResult struct {
	Err           *TransactionStatus `json:"err"`
	Logs          []string           `json:"logs"`
	UnitsConsumed uint64             `json:"unitsConsumed"`
	Accounts      []string           `json:"accounts"`
}

// ProgramErrorData is attached to transaction failures raised by the
// fundraiser program.
type ProgramErrorData struct {
	Code   uint32   `json:"code"`
	Name   string   `json:"name"`
	Detail string   `json:"detail,omitempty"`
	Logs   []string `json:"logs,omitempty"`
}

// Version is the value of getVersion.
type Version struct {
	Core       string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}

// Identity is the value of getIdentity.
type Identity struct {
	Identity string `json:"identity"`
}
