// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package credits reads and tops up the user's credit balance.
//
// The balance is never cached or computed locally. Every read goes to the
// backend, and callers re-read after anything that may have changed it.
package credits

import (
	"context"
	"strconv"
	"strings"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/AleutianAI/datalens/pkg/datatypes"
	"golang.org/x/sync/errgroup"
)

// LedgerAPI is the subset of the backend the ledger needs.
type LedgerAPI interface {
	Balance(ctx context.Context) (datatypes.CreditBalance, error)
	History(ctx context.Context) ([]datatypes.CreditHistoryEntry, error)
	TopUp(ctx context.Context, req datatypes.TopUpRequest) error
}

// Ledger is stateless and safe for concurrent use.
type Ledger struct {
	api LedgerAPI
}

// New creates a Ledger.
func New(api LedgerAPI) *Ledger {
	return &Ledger{api: api}
}

// Overview is the balance together with the history it came from.
type Overview struct {
	Balance int64
	History []datatypes.CreditHistoryEntry
}

// Balance reads the current balance.
func (l *Ledger) Balance(ctx context.Context) (int64, error) {
	b, err := l.api.Balance(ctx)
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// History reads the history in backend order.
func (l *Ledger) History(ctx context.Context) ([]datatypes.CreditHistoryEntry, error) {
	return l.api.History(ctx)
}

// TopUp requests amount more credits.
//
// # Description
//
// A non-positive amount fails with a validation error and no request is
// made. On success nothing is returned; the new balance must be read with
// Balance.
func (l *Ledger) TopUp(ctx context.Context, amount int64) error {
	req := datatypes.TopUpRequest{Amount: amount}
	if err := datatypes.Validate("credits.topup", req); err != nil {
		return err
	}
	return l.api.TopUp(ctx, req)
}

// Overview reads balance and history concurrently. Both must succeed.
func (l *Ledger) Overview(ctx context.Context) (Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b, err := l.api.Balance(gctx)
		if err != nil {
			return err
		}
		out.Balance = b.Balance
		return nil
	})
	g.Go(func() error {
		h, err := l.api.History(gctx)
		if err != nil {
			return err
		}
		out.History = h
		return nil
	})

	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

// ParseAmount converts user input into a positive credit amount.
func ParseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, apierr.Validation("credits.topup", "amount must be a whole number")
	}
	if n <= 0 {
		return 0, apierr.Validation("credits.topup", "amount must be greater than 0")
	}
	return n, nil
}
