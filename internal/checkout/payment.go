package checkout

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/course-checkout/internal/format"
)

const (
	transactionPrefix  = "TXN_"
	transactionRandLen = 9
	base36Digits       = "0123456789abcdefghijklmnopqrstuvwxyz"
	timestampLayout    = "2006-01-02T15:04:05.000Z07:00"
)

// NewTransactionID returns "TXN_<epoch ms>_<random base-36>". Uniqueness is
// probabilistic. A nil rng uses the global source.
func NewTransactionID(now time.Time, rng *rand.Rand) string {
	var b strings.Builder
	b.WriteString(transactionPrefix)
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')
	for i := 0; i < transactionRandLen; i++ {
		var n int
		if rng != nil {
			n = rng.IntN(len(base36Digits))
		} else {
			n = rand.IntN(len(base36Digits))
		}
		b.WriteByte(base36Digits[n])
	}
	return b.String()
}

func newPaymentRecord(form FormData, now time.Time, txID string) PaymentRecord {
	amount := format.Minor(PricingSnapshot.Total)
	return PaymentRecord{
		FormData:      form,
		Amount:        amount,
		AmountMinor:   PricingSnapshot.Total,
		AmountInWords: format.AmountInWords(amount),
		Currency:      format.CurrencyCode(),
		Course:        Course,
		PaymentMethod: PaymentMethod,
		Timestamp:     now.UTC().Format(timestampLayout),
		TransactionID: txID,
	}
}
