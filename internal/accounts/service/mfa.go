package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeCount = 10                   // Number of backup codes to generate
	backupCodeBytes = cryptox.TokenSize128 // 128-bit entropy for backup codes

	totpPeriod = 30
	qrSize     = 256
)

// SecondFactorService owns TOTP secrets and backup codes.
type SecondFactorService struct {
	Store    store.Store
	Issuer   string // shown in authenticator apps
	Notifier notify.Notifier
	Audit    audit.Sink
	Now      func() time.Time
}

// GenerateSecret creates a TOTP secret for accountLabel and returns it with
// its otpauth:// provisioning URI.
func (s *SecondFactorService) GenerateSecret(accountLabel string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: accountLabel,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, nil
}

// GenerateBackupCodes returns fresh high-entropy single-use codes.
func (s *SecondFactorService) GenerateBackupCodes() ([]string, error) {
	codes := make([]string, backupCodeCount)
	for i := range backupCodeCount {
		code, err := cryptox.GenerateToken(backupCodeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = code
	}
	return codes, nil
}

// VerifyToken checks a TOTP code, allowing one period of clock skew either way.
func (s *SecondFactorService) VerifyToken(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, resolveNow(s.Now).UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// VerifyBackupCode consumes code if it is one of the account's unused
// backup codes. A code verifies at most once.
func (s *SecondFactorService) VerifyBackupCode(ctx context.Context, accountID, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	ok, err := s.Store.BackupCodes().ConsumeBackupCode(ctx, accountID, cryptox.FingerprintToken(code))
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	return ok, nil
}

// Enroll stores a new, not yet enabled, TOTP secret and sends the setup
// details to the account holder. Calling it again replaces the pending
// secret.
func (s *SecondFactorService) Enroll(ctx context.Context, accountID string) (domain.SecondFactorSetup, error) {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return domain.SecondFactorSetup{}, mapAccountErr(err)
	}
	if acct.HasSecondFactor() {
		return domain.SecondFactorSetup{}, ErrMFAAlreadyEnabled
	}

	key, err := s.GenerateSecret(acct.Email)
	if err != nil {
		return domain.SecondFactorSetup{}, err
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return domain.SecondFactorSetup{}, fmt.Errorf("failed to render QR code: %w", err)
	}
	var qr bytes.Buffer
	if err := png.Encode(&qr, img); err != nil {
		return domain.SecondFactorSetup{}, fmt.Errorf("failed to encode QR code: %w", err)
	}

	if err := s.Store.Accounts().SetSecondFactorSecret(ctx, accountID, key.Secret(), resolveNow(s.Now)); err != nil {
		return domain.SecondFactorSetup{}, fmt.Errorf("failed to store MFA secret: %w", err)
	}

	if s.Notifier != nil {
		if err := s.Notifier.Send2FASetup(ctx, acct.Email, key.Secret(), qr.Bytes()); err != nil {
			slogx.FromContext(ctx).Warn("second factor setup notification failed", "err", err)
		}
	}

	return domain.SecondFactorSetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		Issuer:          s.Issuer,
		Account:         acct.Email,
		QRCodePNG:       qr.Bytes(),
	}, nil
}

// Confirm enables the second factor once the user proves the authenticator
// works, and returns the initial backup codes.
func (s *SecondFactorService) Confirm(ctx context.Context, accountID, code string) ([]string, error) {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	if acct.HasSecondFactor() {
		return nil, ErrMFAAlreadyEnabled
	}
	if acct.SecondFactorSecret == nil || *acct.SecondFactorSecret == "" {
		return nil, ErrMFANotEnrolled
	}
	if !s.VerifyToken(code, *acct.SecondFactorSecret) {
		return nil, ErrInvalidSecondFactorCode
	}

	codes, err := s.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}

	now := resolveNow(s.Now)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := replaceBackupCodes(ctx, tx, accountID, codes, now); err != nil {
			return err
		}
		if err := tx.Accounts().EnableSecondFactor(ctx, accountID, now); err != nil {
			return fmt.Errorf("failed to enable MFA: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.SecondFactorEnabled, accountID, now)
	return codes, nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP code.
func (s *SecondFactorService) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if err := s.requireCode(ctx, accountID, code); err != nil {
		return nil, err
	}

	codes, err := s.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return replaceBackupCodes(ctx, tx, accountID, codes, resolveNow(s.Now))
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// Disable turns the second factor off after a valid TOTP code.
func (s *SecondFactorService) Disable(ctx context.Context, accountID, code string) error {
	if err := s.requireCode(ctx, accountID, code); err != nil {
		return err
	}

	now := resolveNow(s.Now)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, accountID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		if err := tx.Accounts().DisableSecondFactor(ctx, accountID, now); err != nil {
			return fmt.Errorf("failed to disable MFA: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, audit.SecondFactorDisabled, accountID, now)
	return nil
}

// RemainingBackupCodes reports how many unused backup codes are left.
func (s *SecondFactorService) RemainingBackupCodes(ctx context.Context, accountID string) (int, error) {
	return s.Store.BackupCodes().CountBackupCodes(ctx, accountID)
}

func (s *SecondFactorService) requireCode(ctx context.Context, accountID, code string) error {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return mapAccountErr(err)
	}
	if !acct.HasSecondFactor() {
		return ErrMFANotEnabled
	}
	if !s.VerifyToken(code, *acct.SecondFactorSecret) {
		return ErrInvalidSecondFactorCode
	}
	return nil
}

func (s *SecondFactorService) emit(ctx context.Context, t audit.Type, accountID string, at time.Time) {
	if s.Audit == nil {
		return
	}
	e := audit.New(t, at)
	e.AccountID = accountID
	e.Actor = accountID
	s.Audit.Emit(ctx, e)
}

func replaceBackupCodes(ctx context.Context, tx store.Tx, accountID string, codes []string, at time.Time) error {
	if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, accountID); err != nil {
		return fmt.Errorf("failed to delete old backup codes: %w", err)
	}
	for _, code := range codes {
		if err := tx.BackupCodes().CreateBackupCode(ctx, accountID, cryptox.FingerprintToken(code), at); err != nil {
			return fmt.Errorf("failed to store backup code: %w", err)
		}
	}
	return nil
}

func mapAccountErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotFound
	}
	return fmt.Errorf("failed to load account: %w", err)
}
