package domain

import (
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// MaxAmount 單筆金額上限 (JSON 可精確表示的最大整數)
	MaxAmount = 1<<53 - 1
	// MaxDescriptionLength 描述最多 10 個字元 (以 rune 計)
	MaxDescriptionLength = 10

	// 金額文字與係數的位數上限，以及允許的指數範圍
	// 指數不設限時 IsInteger / GreaterThan 會建出 10^exp 的 big.Int
	maxAmountText     = 40
	maxAmountDigits   = 40
	maxAmountExponent = 16
)

var maxAmount = decimal.NewFromInt(MaxAmount)

// TransactionInput 驗證通過的交易內容
type TransactionInput struct {
	Amount      int64
	Kind        Kind
	Description string
}

// ValidateTransaction 驗證從 JSON 或 gRPC Struct 解出來的原始欄位
// amount 接受 json.Number、浮點數、整數與 decimal.Decimal；kind 為對外代碼 "c" / "d"
func ValidateTransaction(amount, kind, description any) (TransactionInput, error) {
	value, err := parseAmount(amount)
	if err != nil {
		return TransactionInput{}, err
	}

	code, ok := kind.(string)
	if !ok {
		return TransactionInput{}, invalid("kind", "must be a string")
	}
	k, ok := ParseKind(code)
	if !ok {
		return TransactionInput{}, invalid("kind", "must be c or d")
	}

	text, ok := description.(string)
	if !ok {
		return TransactionInput{}, invalid("description", "must be a string")
	}
	if err := validateDescription(text); err != nil {
		return TransactionInput{}, err
	}

	return TransactionInput{Amount: value, Kind: k, Description: text}, nil
}

func parseAmount(v any) (int64, error) {
	var d decimal.Decimal
	switch n := v.(type) {
	case json.Number:
		if len(n) > maxAmountText {
			return 0, invalid("amount", "has too many digits")
		}
		parsed, err := decimal.NewFromString(n.String())
		if err != nil {
			return 0, invalid("amount", "must be a number")
		}
		d = parsed
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, invalid("amount", "must be a number")
		}
		d = decimal.NewFromFloat(n)
	case int:
		d = decimal.NewFromInt(int64(n))
	case int32:
		d = decimal.NewFromInt32(n)
	case int64:
		d = decimal.NewFromInt(n)
	case decimal.Decimal:
		d = n
	default:
		return 0, invalid("amount", "must be a number")
	}

	if err := checkScale(d); err != nil {
		return 0, err
	}

	// 有小數的金額直接拒絕，不做截斷
	if !d.IsInteger() {
		return 0, invalid("amount", "must be an integer")
	}
	if !d.IsPositive() {
		return 0, invalid("amount", "must be positive")
	}
	if d.GreaterThan(maxAmount) {
		return 0, invalid("amount", "is too large")
	}
	return d.IntPart(), nil
}

// checkScale 只看正負號、係數位數與指數，不做任何 rescale
func checkScale(d decimal.Decimal) error {
	if d.NumDigits() > maxAmountDigits {
		return invalid("amount", "has too many digits")
	}
	exp := d.Exponent()
	switch {
	case exp > maxAmountExponent:
		// 非零時至少 10^17
		if !d.IsPositive() {
			return invalid("amount", "must be positive")
		}
		return invalid("amount", "is too large")
	case exp < -maxAmountDigits:
		// 係數不超過 maxAmountDigits 位，絕對值必小於 1
		if !d.IsPositive() {
			return invalid("amount", "must be positive")
		}
		return invalid("amount", "must be an integer")
	}
	return nil
}

func validateDescription(text string) error {
	if text == "" {
		return invalid("description", "must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxDescriptionLength {
		return invalid("description", "must be at most 10 characters")
	}
	return nil
}
