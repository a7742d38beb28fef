// Package rememberme implements persistent login tokens with rotation and
// reuse detection.
//
// Each grant is a series: a server-side record holding the account ID and
// the SHA-256 hash of a one-time secret. The client carries a signed token
// naming the series and the secret in clear. Every successful validation
// rotates the secret, so a presented secret that no longer matches the
// stored hash means the token was already spent by someone else; the
// series is revoked on the spot and the caller is told to treat the
// account as compromised.
package rememberme

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/lockplex/authgate/internal"
)

var (
	// ErrTokenInvalid covers unknown series, bad signatures, expired
	// grants, and malformed client tokens.
	ErrTokenInvalid = errors.New("remember-me token invalid")

	// ErrTokenReuse means the presented secret was already rotated away.
	// The series has been revoked; callers should revoke the account's
	// sessions as well.
	ErrTokenReuse = errors.New("remember-me token reuse detected")

	// ErrUnavailable wraps transport failures talking to Redis.
	ErrUnavailable = errors.New("remember-me store unavailable")

	// ErrSeriesCorrupt means the stored series record could not be parsed.
	ErrSeriesCorrupt = errors.New("remember-me series corrupt")
)

const seriesVersion = 1

const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 1
	rotateStatusCorrupt  int64 = 2
	rotateStatusRotated  int64 = 3
)

// rotateSeriesScript compares the presented secret hash against the stored
// one and swaps in the next hash atomically. A mismatch revokes the series
// in the same round trip so reuse detection cannot race a legitimate
// rotation.
//
// The hash occupies the last 32 bytes of the record.
const rotateSeriesScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
local n = #data
if n < 33 then
  return {2}
end
local stored = string.sub(data, n - 31, n)
if stored ~= ARGV[1] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[3])
  return {1}
end
local updated = string.sub(data, 1, n - 32) .. ARGV[2]
redis.call("SET", KEYS[1], updated, "PX", ARGV[4])
return {3}
`

var rotateSeriesLua = redis.NewScript(rotateSeriesScript)

const deleteSeriesScript = `
redis.call("SREM", KEYS[2], ARGV[1])
return redis.call("DEL", KEYS[1])
`

var deleteSeriesLua = redis.NewScript(deleteSeriesScript)

// Issuer mints, validates, and rotates remember-me grants. It is safe for
// concurrent use.
type Issuer struct {
	redis      redis.UniversalClient
	prefix     string
	signingKey []byte
	validity   time.Duration
	now        func() time.Time
}

// NewIssuer creates an [Issuer]. prefix sets the Redis key namespace,
// signingKey signs client tokens, and validity bounds how long an unused
// grant stays live. Each rotation restarts the validity window.
func NewIssuer(client redis.UniversalClient, prefix string, signingKey []byte, validity time.Duration) (*Issuer, error) {
	if client == nil {
		return nil, errors.New("rememberme: redis client is required")
	}
	if len(signingKey) < 32 {
		return nil, errors.New("rememberme: signing key must be at least 32 bytes")
	}
	if validity <= 0 {
		return nil, errors.New("rememberme: validity must be positive")
	}
	if prefix == "" {
		prefix = "agrm"
	}
	return &Issuer{
		redis:      client,
		prefix:     prefix,
		signingKey: signingKey,
		validity:   validity,
		now:        time.Now,
	}, nil
}

func (i *Issuer) seriesKey(series string) string {
	return i.prefix + ":s:" + series
}

func (i *Issuer) accountKey(accountID string) string {
	return i.prefix + ":a:" + accountID
}

type clientClaims struct {
	Secret string `json:"sec"`
	jwt.RegisteredClaims
}

// Record format: [1] version, [2] accountID length (uint16 BE) + bytes,
// [32] secret hash. Only the hash ever touches Redis; the secret itself
// lives in the client token.
func encodeRecord(accountID string, hash [32]byte) []byte {
	buf := make([]byte, 0, 1+2+len(accountID)+32)
	buf = append(buf, seriesVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(accountID)))
	buf = append(buf, accountID...)
	return append(buf, hash[:]...)
}

func decodeRecord(data []byte) (accountID string, err error) {
	if len(data) < 3 || data[0] != seriesVersion {
		return "", ErrSeriesCorrupt
	}
	n := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) != 3+n+32 {
		return "", ErrSeriesCorrupt
	}
	return string(data[3 : 3+n]), nil
}

// Issue creates a fresh series for the account and returns the signed
// client token plus the series ID.
func (i *Issuer) Issue(ctx context.Context, accountID string) (clientToken, series string, err error) {
	seriesID, err := internal.NewToken()
	if err != nil {
		return "", "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", "", err
	}

	series = seriesID.String()
	record := encodeRecord(accountID, internal.HashSecret(secret))

	_, err = i.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, i.seriesKey(series), record, i.validity)
		pipe.SAdd(ctx, i.accountKey(accountID), series)
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	token, err := i.signToken(series, secret)
	if err != nil {
		return "", "", err
	}
	return token, series, nil
}

// Validate checks a client token, rotates its secret, and returns the
// account it belongs to together with the replacement client token.
// A secret that no longer matches the stored hash revokes the series and
// returns ErrTokenReuse.
func (i *Issuer) Validate(ctx context.Context, clientToken string) (accountID, series, nextToken string, err error) {
	series, secret, err := i.parseToken(clientToken)
	if err != nil {
		return "", "", "", ErrTokenInvalid
	}

	data, err := i.redis.Get(ctx, i.seriesKey(series)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", "", "", ErrTokenInvalid
		}
		return "", "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	accountID, err = decodeRecord(data)
	if err != nil {
		return "", "", "", err
	}

	nextSecret, err := internal.NewSecret()
	if err != nil {
		return "", "", "", err
	}
	providedHash := internal.HashSecret(secret)
	nextHash := internal.HashSecret(nextSecret)

	keys := []string{i.seriesKey(series), i.accountKey(accountID)}
	result, err := rotateSeriesLua.Run(ctx, i.redis, keys,
		providedHash[:], nextHash[:], series, i.validity.Milliseconds(),
	).Result()
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code, ok := scriptStatus(result)
	if !ok {
		return "", "", "", fmt.Errorf("%w: invalid rotate script response", ErrUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return "", "", "", ErrTokenInvalid
	case rotateStatusMismatch:
		return accountID, series, "", ErrTokenReuse
	case rotateStatusCorrupt:
		return "", "", "", ErrSeriesCorrupt
	case rotateStatusRotated:
		next, signErr := i.signToken(series, nextSecret)
		if signErr != nil {
			return "", "", "", signErr
		}
		return accountID, series, next, nil
	default:
		return "", "", "", fmt.Errorf("%w: unknown rotate script status", ErrUnavailable)
	}
}

// RevokeSeries deletes one series. Unknown series are ignored.
func (i *Issuer) RevokeSeries(ctx context.Context, series string) error {
	data, err := i.redis.Get(ctx, i.seriesKey(series)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	accountID, err := decodeRecord(data)
	if err != nil {
		return err
	}

	keys := []string{i.seriesKey(series), i.accountKey(accountID)}
	if _, err := deleteSeriesLua.Run(ctx, i.redis, keys, series).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeAllForAccount deletes every series of the account and returns the
// revoked series IDs.
func (i *Issuer) RevokeAllForAccount(ctx context.Context, accountID string) ([]string, error) {
	accountKey := i.accountKey(accountID)

	series, err := i.redis.SMembers(ctx, accountKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(series) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(series))
	for _, s := range series {
		keys = append(keys, i.seriesKey(s))
	}

	_, err = i.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.Del(ctx, accountKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return series, nil
}

func (i *Issuer) signToken(series string, secret [32]byte) (string, error) {
	now := i.now()
	claims := clientClaims{
		Secret: internal.EncodeSecret(secret),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        series,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.validity)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
}

func (i *Issuer) parseToken(clientToken string) (series string, secret [32]byte, err error) {
	var claims clientClaims
	_, err = jwt.ParseWithClaims(clientToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", secret, err
	}
	if claims.ID == "" {
		return "", secret, ErrTokenInvalid
	}

	secret, err = internal.DecodeSecret(claims.Secret)
	if err != nil {
		return "", secret, err
	}
	return claims.ID, secret, nil
}

func scriptStatus(result interface{}) (int64, bool) {
	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, false
	}
	code, ok := parts[0].(int64)
	return code, ok
}
