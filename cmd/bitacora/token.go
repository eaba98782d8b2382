package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mind-engage/bitacora/internal/auth"
)

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt-secret is required")
	}
	f := cmd.Flags()
	sub, _ := f.GetString("sub")
	role, _ := f.GetString("role")
	ttl, _ := f.GetDuration("ttl")
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	switch role {
	case auth.RoleStudent, auth.RoleTeacher, auth.RoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	tok, err := auth.NewService(cfg.JWTSecret, cfg.JWTIssuer).Issue(sub, role, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}
