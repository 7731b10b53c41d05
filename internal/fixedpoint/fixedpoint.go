// Package fixedpoint converts decimal amounts to scaled integers and back.
//
// Every price in the system is carried as a *big.Int scaled by 10^Decimals.
// Parsing is lenient on purpose: malformed input yields zero, which the rest
// of the system reads as "price unavailable".
package fixedpoint

import (
    "encoding/json"
    "math"
    "math/big"
    "regexp"
    "strings"

    "github.com/shopspring/decimal"
)

// Decimals is the single fixed-point scale used across the system.
const Decimals = 14

// Scale is 10^Decimals. Do not mutate.
var Scale = Pow10(Decimals)

var validAmount = regexp.MustCompile(`^-?[0-9.,]+$`)

// Pow10 returns 10^n as a fresh *big.Int.
func Pow10(n int) *big.Int {
    if n <= 0 { return big.NewInt(1) }
    return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool { return v == nil || v.Sign() == 0 }

// Parse converts a string or numeric value into a fixed-point integer with the
// given number of decimals. Unsupported types, nil and empty values yield zero.
func Parse(v any, decimals int) *big.Int {
    switch x := v.(type) {
    case nil:
        return Zero()
    case string:
        return ParseString(x, decimals)
    case json.Number:
        return ParseString(x.String(), decimals)
    case float64:
        return ParseFloat(x, decimals)
    case float32:
        return ParseFloat(float64(x), decimals)
    case int:
        return new(big.Int).Mul(big.NewInt(int64(x)), Pow10(decimals))
    case int64:
        return new(big.Int).Mul(big.NewInt(x), Pow10(decimals))
    case *big.Int:
        if x == nil { return Zero() }
        return new(big.Int).Set(x)
    default:
        return Zero()
    }
}

// ParseFloat renders v with exactly decimals fractional digits and parses the result.
func ParseFloat(v float64, decimals int) *big.Int {
    if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) { return Zero() }
    if decimals < 0 { decimals = 0 }
    return ParseString(decimal.NewFromFloat(v).StringFixed(int32(decimals)), decimals)
}

// ParseString parses a decimal string. Digits past decimals are truncated, not
// rounded. Only the first two dot-separated groups are read, so "1.2.3" is
// 1.2. Anything else that is not a plain decimal number, surrounding
// whitespace included, yields zero.
func ParseString(s string, decimals int) *big.Int {
    if s == "" || !validAmount.MatchString(s) { return Zero() }
    if decimals < 0 { decimals = 0 }

    neg := strings.HasPrefix(s, "-")
    s = strings.TrimPrefix(s, "-")

    intPart, rest, _ := strings.Cut(s, ".")
    fracPart, _, _ := strings.Cut(rest, ".")
    if intPart == "" && fracPart == "" { return Zero() }
    if intPart == "" { intPart = "0" }
    // "1,5" passes the shape check but is not a number
    if strings.Contains(intPart, ",") || strings.Contains(fracPart, ",") { return Zero() }

    res, ok := new(big.Int).SetString(intPart, 10)
    if !ok { return Zero() }
    res.Mul(res, Pow10(decimals))

    if fracPart != "" && decimals > 0 {
        if len(fracPart) > decimals {
            fracPart = fracPart[:decimals]
        } else {
            fracPart += strings.Repeat("0", decimals-len(fracPart))
        }
        frac, ok := new(big.Int).SetString(fracPart, 10)
        if !ok { return Zero() }
        res.Add(res, frac)
    }

    if neg { res.Neg(res) }
    return res
}

// Format renders v as a decimal string with trailing zeros removed.
func Format(v *big.Int, decimals int) string {
    if v == nil { return "0" }
    if decimals <= 0 { return v.String() }
    return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
