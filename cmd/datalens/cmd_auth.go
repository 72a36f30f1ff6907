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
	"time"

	"github.com/AleutianAI/datalens/pkg/datatypes"
	"github.com/AleutianAI/datalens/pkg/session"
	"github.com/AleutianAI/datalens/pkg/ux"
	"github.com/spf13/cobra"
)

// sessionStatus is the JSON shape of `session status`.
type sessionStatus struct {
	State     string          `json:"state"`
	Reason    string          `json:"reason,omitempty"`
	User      *datatypes.User `json:"user,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	APIURL    string          `json:"apiUrl"`
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			if c.printer.Interactive() {
				if err := promptCredentials(cmd.Context(), &email, &password, nil); err != nil {
					return err
				}
			}
			var user *datatypes.User
			err = c.printer.WithSpinner("Signing in", func() error {
				var err error
				user, err = a.session.Login(cmd.Context(), email, password)
				return err
			})
			if err != nil {
				return &credentialError{err: err}
			}
			return c.signedInAs(user)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign into it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			if c.printer.Interactive() {
				if err := promptCredentials(cmd.Context(), &email, &password, &name); err != nil {
					return err
				}
			}
			var user *datatypes.User
			err = c.printer.WithSpinner("Creating account", func() error {
				var err error
				user, err = a.session.Register(cmd.Context(), email, password, name)
				return err
			})
			if err != nil {
				return &credentialError{err: err}
			}
			return c.signedInAs(user)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func (c *cli) signedInAs(user *datatypes.User) error {
	if c.printer.Mode() == ux.ModeJSON {
		return c.printer.User(*user)
	}
	c.printer.Success(fmt.Sprintf("Signed in as %s <%s>", user.Name, user.Email))
	return nil
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			if err := a.session.Logout(); err != nil {
				return err
			}
			c.printer.Success("Signed out")
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.signedIn(cmd, "/profile")
			if err != nil {
				return err
			}
			user, err := a.session.RefreshUser(cmd.Context())
			if err != nil {
				return err
			}
			return c.printer.User(*user)
		},
	}
}

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or renew the stored session",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored and valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			a.session.Start(cmd.Context())
			return c.printStatus(a)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.signedIn(cmd, "/profile")
			if err != nil {
				return err
			}
			if _, err := a.session.RefreshToken(cmd.Context()); err != nil {
				return err
			}
			if c.printer.Mode() != ux.ModeJSON {
				c.printer.Success("Session renewed")
			}
			return c.printStatus(a)
		},
	})
	return cmd
}

func (c *cli) printStatus(a *app) error {
	snap := a.session.Snapshot()
	status := sessionStatus{
		State:  snap.State.String(),
		Reason: snap.Reason,
		User:   snap.User,
		APIURL: a.gateway.BaseURL(),
	}
	if token, ok := a.store.AccessToken(); ok {
		if exp, ok := session.TokenExpiry(token); ok {
			status.ExpiresAt = &exp
		}
	}
	if c.printer.Mode() == ux.ModeJSON {
		return c.printer.JSON(status)
	}

	pairs := []string{"state", status.State}
	if status.User != nil {
		pairs = append(pairs, "user", fmt.Sprintf("%s <%s>", status.User.Name, status.User.Email))
	}
	if status.Reason != "" && !snap.Authenticated() {
		pairs = append(pairs, "reason", status.Reason)
	}
	if status.ExpiresAt != nil {
		pairs = append(pairs, "expires", status.ExpiresAt.Local().Format(time.RFC1123))
	}
	pairs = append(pairs, "api", status.APIURL)
	c.printer.KeyValues(pairs...)
	return nil
}
