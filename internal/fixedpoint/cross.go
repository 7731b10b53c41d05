package fixedpoint

import "math/big"

// Cross rebases price onto base: price * Scale / base, truncated toward zero.
// A zero or nil operand yields zero.
func Cross(base, price *big.Int) *big.Int {
    return cross(base, price, Scale)
}

// CrossScaled is Cross with an explicit scale of 10^decimals.
func CrossScaled(base, price *big.Int, decimals int) *big.Int {
    return cross(base, price, Pow10(decimals))
}

func cross(base, price, scale *big.Int) *big.Int {
    if IsZero(base) || IsZero(price) { return Zero() }
    res := new(big.Int).Mul(price, scale)
    return res.Quo(res, base)
}

// Mul multiplies two fixed-point values at the system scale, truncating.
func Mul(a, b *big.Int) *big.Int {
    if IsZero(a) || IsZero(b) { return Zero() }
    res := new(big.Int).Mul(a, b)
    return res.Quo(res, Scale)
}
