// staff-token mints a staff bearer token for local use of the agenda and
// status endpoints.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/chairbook/libs/auth"
	"github.com/md-rashed-zaman/chairbook/libs/config"
)

func main() {
	var (
		secret = flag.String("secret", config.String("JWT_SECRET", ""), "HS256 signing secret")
		tenant = flag.String("tenant-id", config.String("TENANT_ID", ""), "tenant the token is scoped to")
		user   = flag.String("user-id", config.String("USER_ID", "dev-staff"), "token subject")
		role   = flag.String("role", config.String("ROLE", auth.RoleStaff), "owner or staff")
		ttl    = flag.Duration("ttl", 12*time.Hour, "token lifetime")
	)
	flag.Parse()

	token, err := mint(*secret, *tenant, *user, *role, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Println(token)
}

func mint(secret, tenantID, userID, role string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("JWT_SECRET is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return "", fmt.Errorf("TENANT_ID is required")
	}
	if role != auth.RoleOwner && role != auth.RoleStaff {
		return "", fmt.Errorf("role must be %q or %q", auth.RoleOwner, auth.RoleStaff)
	}
	return auth.SignHS256(auth.NewClaims(userID, tenantID, role, now, ttl), secret)
}
