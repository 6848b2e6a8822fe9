/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Rate is a mid-market exchange rate as fetched from a rate source.
type Rate struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Rate      decimal.Decimal `json:"rate"`
	Provider  string          `json:"provider"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Quote fixes a conversion for one transaction. EffectiveRate is the
// mid-market rate less the configured spread; the converted amount is
// computed from it and floored to minor units.
type Quote struct {
	QuoteID         string          `json:"quote_id"`
	Source          string          `json:"source"`
	Target          string          `json:"target"`
	Amount          *big.Int        `json:"amount"`
	ConvertedAmount *big.Int        `json:"converted_amount"`
	Rate            decimal.Decimal `json:"rate"`
	SpreadBps       int64           `json:"spread_bps"`
	EffectiveRate   decimal.Decimal `json:"effective_rate"`
	Provider        string          `json:"provider"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// SpreadMargin is the platform's take on the conversion: what the full
// rate would have yielded minus what the merchant receives, in target
// currency minor units. This is the amount booked to FX_SPREAD_REVENUE.
func (q *Quote) SpreadMargin() *big.Int {
	if q.Amount == nil || q.ConvertedAmount == nil {
		return big.NewInt(0)
	}
	full := decimal.NewFromBigInt(q.Amount, 0).Mul(q.Rate).Floor().BigInt()
	return new(big.Int).Sub(full, q.ConvertedAmount)
}
