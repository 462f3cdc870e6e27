package peer

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gibberwallet/wavebridge/internal/wire"
)

// Responder returns the reply candidates for a received frame, most
// preferred first. The peer sends the first candidate that fits one frame.
// No candidates means no reply.
type Responder func(text string) []string

// Echo replies with the received text.
func Echo(text string) []string {
	return []string{text}
}

// Wallet answers like a signing wallet: transaction requests get a
// signed_transaction carrying a mock signature, plain text is echoed, and
// other envelopes are not answered.
func Wallet(now func() time.Time) Responder {
	return func(text string) []string {
		msgType, ok := wire.Peek(text)
		if !ok {
			return []string{text}
		}
		if msgType != wire.TypeTransaction {
			return nil
		}

		msg, err := wire.Decode(text)
		if err != nil {
			return nil
		}
		var req wire.TransactionRequest
		if err := msg.Payload(&req); err != nil {
			return compact(now(), wire.TypeError, wire.ErrorMessage{Message: "malformed transaction", Code: "BAD_REQUEST"})
		}

		sum := sha256.Sum256(msg.Data)
		signed := wire.SignedTransactionResponse{
			SignedTransaction: "0x" + hex.EncodeToString(sum[:8]),
			RequestID:         req.RequestID,
		}
		replies := compact(now(), wire.TypeSignedTransaction, signed)
		return append(replies, "signed:"+req.RequestID)
	}
}

func compact(now time.Time, t wire.MessageType, payload interface{}) []string {
	msg, err := wire.NewMessage(t, payload, now)
	if err != nil {
		return nil
	}
	text, err := wire.Encode(msg)
	if err != nil {
		return nil
	}
	return []string{text}
}
