package main

import (
	"fmt"
	"time"

	"storefront/internal/identity"

	"github.com/spf13/cobra"
)

var (
	tokenEmail string
	tokenTTL   time.Duration
)

// storefront token <user-id> --email x
// 本番のトークンは認証基盤が発行する。ローカル確認用
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Print a signed access token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := boot()
		if err != nil {
			return err
		}
		raw, err := identity.Issue(cfg.JWTSecret, identity.Identity{ID: args[0], Email: tokenEmail}, tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(raw)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
