package models

import (
	"fmt"

	"tienda/internal/apperrors"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusPaid       OrderStatus = "paid"
	StatusInProgress OrderStatus = "in-progress"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCanceled   OrderStatus = "canceled"
)

// InventoryEffect is what a transition does to the stock held by an order.
type InventoryEffect int

const (
	// EffectNone leaves inventory untouched.
	EffectNone InventoryEffect = iota
	// EffectCommit consumes the reservation (payment captured).
	EffectCommit
	// EffectRelease returns reserved, unpaid units to the available pool.
	EffectRelease
	// EffectRestock returns committed units to the pool and requires a refund.
	EffectRestock
)

var allStatuses = []OrderStatus{
	StatusPending, StatusPaid, StatusInProgress, StatusShipped, StatusDelivered, StatusCanceled,
}

var transitions = map[OrderStatus]map[OrderStatus]InventoryEffect{
	StatusPending:    {StatusPaid: EffectCommit, StatusCanceled: EffectRelease},
	StatusPaid:       {StatusInProgress: EffectNone, StatusCanceled: EffectRestock},
	StatusInProgress: {StatusShipped: EffectNone, StatusCanceled: EffectRestock},
	StatusShipped:    {StatusDelivered: EffectNone},
	StatusDelivered:  {},
	StatusCanceled:   {},
}

// ParseStatus converts a raw value into an OrderStatus.
func ParseStatus(raw string) (OrderStatus, error) {
	for _, s := range allStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidStatus, raw)
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// HoldsInventory reports whether an order in s still has stock reserved or committed to it.
func (s OrderStatus) HoldsInventory() bool {
	return s != StatusCanceled && s != StatusDelivered
}

// Transition validates from -> to and returns the inventory side effect.
func Transition(from, to OrderStatus) (InventoryEffect, error) {
	next, ok := transitions[from]
	if !ok {
		return EffectNone, fmt.Errorf("%w: %q", apperrors.ErrInvalidStatus, from)
	}
	if _, ok := transitions[to]; !ok {
		return EffectNone, fmt.Errorf("%w: %q", apperrors.ErrInvalidStatus, to)
	}
	if from.IsTerminal() {
		return EffectNone, fmt.Errorf("%w: order is %s", apperrors.ErrInvalidTransition, from)
	}
	effect, ok := next[to]
	if !ok {
		return EffectNone, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, from, to)
	}
	return effect, nil
}
