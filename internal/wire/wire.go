// Package wire defines the wallet message envelope carried over sound.
//
// A frame is the JSON encoding of an AudioMessage. The payload is itself
// JSON, carried base64-encoded in the data field; the timestamp counts
// seconds since 2001-01-01 UTC, which is what the wallet app emits.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// MessageType names the payload carried by an envelope.
type MessageType string

const (
	TypeConnect           MessageType = "connect"
	TypeTransaction       MessageType = "transaction"
	TypeSignedTransaction MessageType = "signed_transaction"
	TypeError             MessageType = "error"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeConnect, TypeTransaction, TypeSignedTransaction, TypeError:
		return true
	}
	return false
}

var (
	// ErrMalformed is returned for text that is not an envelope.
	ErrMalformed = errors.New("MALFORMED")
	// ErrUnknownType is returned for envelopes with an unknown type.
	ErrUnknownType = errors.New("UNKNOWN_TYPE")
)

// referenceDate is the epoch of the envelope timestamp.
var referenceDate = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// AudioMessage is the envelope.
type AudioMessage struct {
	Type      MessageType `json:"type"`
	Data      []byte      `json:"data"`
	Timestamp float64     `json:"timestamp"`
}

// ConnectMessage announces a dApp to the wallet.
type ConnectMessage struct {
	AppName    string `json:"appName"`
	AppVersion string `json:"appVersion"`
	ChainID    string `json:"chainId"`
}

// Transaction is an unsigned EVM transaction. Amounts are decimal wei strings.
type Transaction struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Value    string  `json:"value"`
	Data     *string `json:"data,omitempty"`
	Gas      *string `json:"gas,omitempty"`
	GasPrice *string `json:"gasPrice,omitempty"`
	Nonce    *string `json:"nonce,omitempty"`
	ChainID  string  `json:"chainId"`
}

// DisplayValue renders Value in ETH with six decimals.
func (t Transaction) DisplayValue() string {
	wei, err := strconv.ParseFloat(t.Value, 64)
	if err != nil {
		return "0 ETH"
	}
	return fmt.Sprintf("%.6f ETH", wei/1e18)
}

// TransactionRequest asks the wallet to sign a transaction.
type TransactionRequest struct {
	Transaction Transaction `json:"transaction"`
	RequestID   string      `json:"requestId"`
}

// SignedTransactionResponse answers a TransactionRequest.
type SignedTransactionResponse struct {
	SignedTransaction string `json:"signedTransaction"`
	RequestID         string `json:"requestId"`
}

// ErrorMessage reports a failure to the peer.
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewMessage wraps payload in an envelope stamped with now.
func NewMessage(t MessageType, payload interface{}, now time.Time) (AudioMessage, error) {
	if !t.Valid() {
		return AudioMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return AudioMessage{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return AudioMessage{
		Type:      t,
		Data:      data,
		Timestamp: now.Sub(referenceDate).Seconds(),
	}, nil
}

// Time returns the envelope timestamp.
func (m AudioMessage) Time() time.Time {
	return referenceDate.Add(time.Duration(m.Timestamp * float64(time.Second)))
}

// Payload decodes the carried payload into v.
func (m AudioMessage) Payload(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, m.Type, err)
	}
	return nil
}

// Encode renders the envelope as frame text.
func Encode(m AudioMessage) (string, error) {
	if !m.Type.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses frame text into an envelope.
func Decode(text string) (AudioMessage, error) {
	var m AudioMessage
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return AudioMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !m.Type.Valid() {
		return AudioMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return m, nil
}

// Peek returns the envelope type of text without decoding the payload.
func Peek(text string) (MessageType, bool) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal([]byte(text), &head); err != nil {
		return "", false
	}
	return head.Type, head.Type.Valid()
}

// Fits reports whether text can be carried in one frame of maxPayload bytes.
func Fits(text string, maxPayload int) bool {
	return len(text) > 0 && len(text) <= maxPayload
}
