package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lockplex/authgate/internal"
	"github.com/lockplex/authgate/password"
)

// verifyMeta carries audit detail the public error deliberately hides.
type verifyMeta struct {
	reason     string
	upgraded   bool
	upgradeErr error
}

const (
	reasonUnknownAccount  = "unknown_account"
	reasonBadPassword     = "bad_password"
	reasonProviderTimeout = "provider_timeout"
	reasonProviderError   = "provider_error"
)

// credentialVerifier resolves username/password pairs against the account
// provider. Unknown accounts and wrong passwords produce the same public
// error and take the same time: lookups that miss still burn one argon2
// verification against a throwaway hash.
type credentialVerifier struct {
	provider  AccountProvider
	hasher    *password.Argon2
	upgrade   bool
	timeout   time.Duration
	dummyHash string
	log       zerolog.Logger
}

func newCredentialVerifier(provider AccountProvider, hasher *password.Argon2, cfg PasswordConfig, timeout time.Duration, log zerolog.Logger) (*credentialVerifier, error) {
	filler, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(internal.EncodeSecret(filler))
	if err != nil {
		return nil, err
	}

	return &credentialVerifier{
		provider:  provider,
		hasher:    hasher,
		upgrade:   cfg.UpgradeOnLogin,
		timeout:   timeout,
		dummyHash: dummyHash,
		log:       log,
	}, nil
}

func (v *credentialVerifier) verify(ctx context.Context, username, pass string) (AccountRecord, verifyMeta, error) {
	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	record, err := v.provider.GetAccountByUsername(callCtx, username)
	cancel()

	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			// Burn a verification so the miss is not observable by timing.
			_, _ = v.hasher.Verify(pass, v.dummyHash)
			return AccountRecord{}, verifyMeta{reason: reasonUnknownAccount}, ErrInvalidCredentials
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return AccountRecord{}, verifyMeta{reason: reasonProviderTimeout}, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		default:
			return AccountRecord{}, verifyMeta{reason: reasonProviderError}, fmt.Errorf("account provider: %w", err)
		}
	}

	ok, err := v.hasher.Verify(pass, record.PasswordHash)
	if err != nil {
		return AccountRecord{}, verifyMeta{reason: reasonProviderError}, err
	}
	if !ok {
		return AccountRecord{}, verifyMeta{reason: reasonBadPassword}, ErrInvalidCredentials
	}

	meta := verifyMeta{}
	if v.upgrade {
		if needs, upErr := v.hasher.NeedsUpgrade(record.PasswordHash); upErr == nil && needs {
			meta.upgraded, meta.upgradeErr = v.upgradeHash(ctx, record.AccountID, pass)
		}
	}

	return record, meta, nil
}

// upgradeHash rehashes with current parameters. Failure is logged and
// never fails the login.
func (v *credentialVerifier) upgradeHash(ctx context.Context, accountID, pass string) (bool, error) {
	newHash, err := v.hasher.Hash(pass)
	if err != nil {
		v.log.Warn().Err(err).Str("account_id", accountID).Msg("password upgrade rehash failed")
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if err := v.provider.UpdatePasswordHash(callCtx, accountID, newHash); err != nil {
		v.log.Warn().Err(err).Str("account_id", accountID).Msg("password upgrade store failed")
		return false, err
	}

	v.log.Debug().Str("account_id", accountID).Msg("password hash upgraded")
	return true, nil
}
