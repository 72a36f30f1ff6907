// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/AleutianAI/datalens/pkg/credits"
	"github.com/spf13/cobra"
)

const creditsRoute = "/credits"

func (c *cli) creditsCmd() *cobra.Command {
	balance := func(cmd *cobra.Command, _ []string) error {
		a, err := c.signedIn(cmd, creditsRoute)
		if err != nil {
			return err
		}
		b, err := a.ledger.Balance(cmd.Context())
		if err != nil {
			return err
		}
		return c.printer.Balance(b)
	}

	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show or top up your analysis credits",
		Args:  cobra.NoArgs,
		RunE:  balance,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Show the current balance",
		Args:  cobra.NoArgs,
		RunE:  balance,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Show credit movements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.signedIn(cmd, creditsRoute)
			if err != nil {
				return err
			}
			history, err := a.ledger.History(cmd.Context())
			if err != nil {
				return err
			}
			return c.printer.History(history)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add AMOUNT",
		Short: "Top up by a whole number of credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := credits.ParseAmount(args[0])
			if err != nil {
				return err
			}
			a, err := c.signedIn(cmd, creditsRoute)
			if err != nil {
				return err
			}
			if err := a.ledger.TopUp(cmd.Context(), amount); err != nil {
				return err
			}
			b, err := a.ledger.Balance(cmd.Context())
			if err != nil {
				return err
			}
			c.printer.Success(fmt.Sprintf("Added %d credits", amount))
			return c.printer.Balance(b)
		},
	})
	return cmd
}
