/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wdudokvanheel/care-chords/internal/auth"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage control API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <client>",
	Short: "Issue a bearer token for a remote control client",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (0 = no expiry)")
	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if cfg.JWTSigningKey == "" {
		return errors.New("no JWT signing key configured, control routes are open")
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), args[0], tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
