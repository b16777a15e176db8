package api

// JSON shapes for the REST surface. Amounts travel as decimal strings to
// survive uint256-scale values.

type TokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type RateInfo struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Rate  string `json:"rate"` // scaled by 10^18
}

type SetRateRequest struct {
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Rate      string `json:"rate"`
	Signature string `json:"signature"` // manager signature over the rate message
}

type EstimateResponse struct {
	SellAmount string `json:"sell_amount"`
	BuyAmount  string `json:"buy_amount"`
}

type PlaceOrderRequest struct {
	MinBuyAmount string `json:"min_buy_amount"`
	Signature    string `json:"signature"` // caller signature over the placement message
}

type OrderInfo struct {
	Address     string `json:"address"`
	Fingerprint string `json:"fingerprint"`
	SellToken   string `json:"sell_token"`
	BuyToken    string `json:"buy_token"`
	SellAmount  string `json:"sell_amount"`
	BuyAmount   string `json:"buy_amount"`
	Deadline    int64  `json:"deadline"` // Unix seconds
}

type ValidateRequest struct {
	Fingerprint string `json:"fingerprint"`
}

type ValidateResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type RecoverResponse struct {
	Recovered bool   `json:"recovered"`
	Reason    string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
