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
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// Every identifier in the system is minted here: txn_, prov_, rule_, entry_,
// quote_, recon_, disc_, stl_.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// Int64ToBigInt converts an int64 value to a *big.Int. Monetary amounts are
// arbitrary-precision integers in minor units throughout the system.
func Int64ToBigInt(value int64) *big.Int {
	return big.NewInt(value)
}

// BigIntFromString parses a decimal string into *big.Int. Used when scanning
// NUMERIC columns, which arrive as strings from the driver.
func BigIntFromString(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

// AmountString renders an amount for storage; nil is stored as zero.
func AmountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// AmountsEqual reports whether two amounts are equal, treating nil as zero.
func AmountsEqual(a, b *big.Int) bool {
	if a == nil {
		a = big.NewInt(0)
	}
	if b == nil {
		b = big.NewInt(0)
	}
	return a.Cmp(b) == 0
}
