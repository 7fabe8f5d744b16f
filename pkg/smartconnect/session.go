package smartconnect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// Credentials for a TOTP login.
type Credentials struct {
	ClientCode string
	Password   string
	TOTPSecret string // base32 seed from the Angel One authenticator enrolment
}

// Login generates a fresh TOTP code and opens a session on sc.
func Login(ctx context.Context, sc *SmartConnect, cr Credentials, now time.Time) error {
	if strings.TrimSpace(cr.ClientCode) == "" || cr.Password == "" || cr.TOTPSecret == "" {
		return errors.New("smartconnect: client code, password and TOTP secret are required")
	}
	code, err := totp.GenerateCode(strings.TrimSpace(cr.TOTPSecret), now)
	if err != nil {
		return fmt.Errorf("smartconnect: TOTP generation: %w", err)
	}
	if _, err := sc.GenerateSession(ctx, cr.ClientCode, cr.Password, code); err != nil {
		return err
	}
	return nil
}
