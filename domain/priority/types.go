// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package priority models the per data category ordering of contributing
// packages, and the copy of it taken when a migration starts.
package priority

import "strings"

// Category identifies a class of health data.
type Category int

// Order is the ordered list of contributing packages for a category,
// highest priority first.
type Order []string

// EncodeOrder returns the persisted form of an order.
func EncodeOrder(o Order) string {
	return strings.Join(o, ",")
}

// DecodeOrder parses the persisted form of an order. Empty elements are
// dropped.
func DecodeOrder(s string) Order {
	var result Order
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
