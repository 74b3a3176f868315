package services

import (
	"context"
	"errors"
	"math"

	"github.com/finitefield/order-desk/internal/repositories"
)

var errSerialExhausted = errors.New("order number counter exhausted")

// serialAllocator reserves the next order number in two steps so that the counter read
// happens with the other transactional reads and the write with the other writes.
type serialAllocator struct {
	tx       repositories.OrderTx
	next     int64
	reserved bool
}

func newSerialAllocator(tx repositories.OrderTx) *serialAllocator {
	return &serialAllocator{tx: tx}
}

// Reserve reads the counter and returns current+1. Nothing is written yet.
func (a *serialAllocator) Reserve(ctx context.Context) (int64, error) {
	counter, err := a.tx.GetCounter(ctx)
	if err != nil {
		return 0, err
	}
	if counter.Count == math.MaxInt64 {
		return 0, errSerialExhausted
	}
	a.next = counter.Count + 1
	a.reserved = true
	return a.next, nil
}

// Stage writes the reserved number back to the counter within the transaction.
func (a *serialAllocator) Stage() error {
	if !a.reserved {
		return errors.New("serial allocator: stage called before reserve")
	}
	return a.tx.SetCounter(a.next)
}
