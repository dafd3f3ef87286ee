package explorer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Actions understood by the account module.
const (
	ActionTokenTx    = "tokentx"
	ActionTokenNFTTx = "tokennfttx"
	ActionInternal   = "txlistinternal"
	ActionGetToken   = "getToken"
)

// Sort is the ordering requested from the explorer.
type Sort string

const (
	SortAsc  Sort = "asc"
	SortDesc Sort = "desc"
)

// ParseSort accepts asc/desc in any case; anything else is asc.
func ParseSort(s string) Sort {
	if strings.EqualFold(strings.TrimSpace(s), string(SortDesc)) {
		return SortDesc
	}
	return SortAsc
}

// ActionFor picks the account action. NFT wins over internal, internal wins over tokentx.
func ActionFor(internal, nft bool) string {
	switch {
	case nft:
		return ActionTokenNFTTx
	case internal:
		return ActionInternal
	default:
		return ActionTokenTx
	}
}

// Query is a single page request against the account module.
type Query struct {
	Address         string
	Action          string
	Page            int
	Offset          int
	Sort            Sort
	Start           *time.Time
	End             *time.Time
	ContractAddress string
}

// Transfer is one transfer event as returned by the explorer.
// Every field is kept as a string; unknown fields are reachable through Field.
type Transfer struct {
	Hash            string
	From            string
	To              string
	Value           string
	TokenDecimal    string
	TimeStamp       string
	ContractAddress string
	TokenID         string
	TokenName       string
	TokenSymbol     string

	fields map[string]string
}

// NewTransfer builds a Transfer from raw explorer fields.
func NewTransfer(fields map[string]string) Transfer {
	t := Transfer{fields: make(map[string]string, len(fields))}
	for k, v := range fields {
		t.fields[k] = v
	}
	t.bind()
	return t
}

func (t *Transfer) bind() {
	t.Hash = t.fields["hash"]
	t.From = t.fields["from"]
	t.To = t.fields["to"]
	t.Value = t.fields["value"]
	t.TokenDecimal = t.fields["tokenDecimal"]
	t.TimeStamp = t.fields["timeStamp"]
	t.ContractAddress = t.fields["contractAddress"]
	t.TokenID = t.fields["tokenID"]
	t.TokenName = t.fields["tokenName"]
	t.TokenSymbol = t.fields["tokenSymbol"]
}

// Field returns the raw value of any explorer field, or "" when absent.
func (t Transfer) Field(name string) string {
	return t.fields[name]
}

// Time parses the unix timeStamp field.
func (t Transfer) Time() (time.Time, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(t.TimeStamp), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timeStamp %q: %w", t.TimeStamp, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// UnmarshalJSON coerces every scalar to its string form. Nulls and nested values become "".
func (t *Transfer) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	t.fields = make(map[string]string, len(raw))
	for k, v := range raw {
		t.fields[k] = coerce(v)
	}
	t.bind()
	return nil
}

// MarshalJSON writes the raw field map back out.
func (t Transfer) MarshalJSON() ([]byte, error) {
	if t.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t.fields)
}

func coerce(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// Token is the result of module=token&action=getToken.
type Token struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Type            string `json:"type"`
	Decimals        string `json:"decimals"`
	ContractAddress string `json:"contractAddress"`
}

// IsNFT reports whether the token is an ERC-721 collection.
func (t *Token) IsNFT() bool {
	return t != nil && strings.EqualFold(t.Type, "ERC-721")
}

// APIError is a status "0" response that is not a plain "no data" answer.
type APIError struct {
	Message string
	Result  string
}

func (e *APIError) Error() string {
	if e.Result != "" && e.Result != e.Message {
		return fmt.Sprintf("explorer: %s: %s", e.Message, e.Result)
	}
	return "explorer: " + e.Message
}

// envelope is the {status, message, result} wrapper every explorer response uses.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (e envelope) emptyResult() bool {
	r := bytes.TrimSpace(e.Result)
	return len(r) == 0 || bytes.Equal(r, []byte("null")) || bytes.Equal(r, []byte("[]")) || bytes.Equal(r, []byte(`""`))
}

func (e envelope) noData() bool {
	m := strings.ToLower(e.Message)
	return strings.HasPrefix(m, "no transactions found") || strings.HasPrefix(m, "no token transfers found") ||
		strings.HasPrefix(m, "no internal transactions found")
}

func (e envelope) apiError() *APIError {
	var s string
	if err := json.Unmarshal(e.Result, &s); err != nil {
		s = strings.TrimSpace(string(e.Result))
	}
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	return &APIError{Message: msg, Result: s}
}
