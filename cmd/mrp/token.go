package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/config"
	"github.com/bitfantasy/nimo-mrp/internal/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// runToken 为集成方（MES、WMS脚本等）签发服务账号令牌
//
//	mrp token -user svc-mes -perms mrp:inventory:*,mrp:requisition:read -ttl 720h
func runToken(cfg *config.Config, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(w)
	user := fs.String("user", "", "service account id")
	name := fs.String("name", "", "display name")
	perms := fs.String("perms", "", "comma separated permissions")
	roles := fs.String("roles", "", "comma separated roles")
	ttl := fs.Duration("ttl", cfg.JWT.AccessTokenExpire, "token lifetime, 0 = no expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is not configured")
	}

	claims := middleware.JWTClaims{
		UserID:      *user,
		Name:        *name,
		Roles:       splitList(*roles),
		Permissions: splitList(*perms),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  cfg.JWT.Issuer,
			Subject: *user,
		},
	}
	token, err := middleware.IssueToken(cfg.JWT.Secret, claims, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(w, token)
	if *ttl > 0 {
		fmt.Fprintf(w, "# expires at %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
