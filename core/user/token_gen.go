package user

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	resetSalt  = []byte("doubtbuddy.core.user.password_reset")
	resetEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

	// errors
	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

// resetTokens signs single-use password reset tokens.
// A token is "<hours since resetEpoch, base36>-<signature>"; the signature covers the
// password hash and last login, so it stops working once either changes.
type resetTokens struct {
	key     [sha256.Size]byte
	timeout time.Duration
	nowFunc func() time.Time
}

func newResetTokens(secretKey string, timeout time.Duration) *resetTokens {
	return &resetTokens{
		key:     sha256.Sum256(append(append([]byte{}, resetSalt...), secretKey...)),
		timeout: timeout,
		nowFunc: time.Now,
	}
}

// EncodeUID encodes the ID of usr for use in a reset link.
func EncodeUID(usr User) string {
	return base64.RawURLEncoding.EncodeToString([]byte(usr.ID))
}

func decodeUID(uid string) (string, error) {
	id, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

func (rt *resetTokens) make(usr User) string {
	return rt.makeAt(usr, rt.hoursSinceEpoch(rt.nowFunc()))
}

func (rt *resetTokens) verify(usr User, token string) error {
	tsPart, _, ok := strings.Cut(token, "-")
	if !ok {
		return errInvalidToken
	}
	ts, err := strconv.ParseInt(tsPart, 36, 64)
	if err != nil || ts < 0 {
		return errInvalidToken
	}
	if !hmac.Equal([]byte(rt.makeAt(usr, ts)), []byte(token)) {
		return errInvalidToken
	}
	if time.Duration(rt.hoursSinceEpoch(rt.nowFunc())-ts)*time.Hour > rt.timeout {
		return errTokenExpired
	}
	return nil
}

func (rt *resetTokens) makeAt(usr User, ts int64) string {
	h := hmac.New(sha256.New, rt.key[:])
	h.Write([]byte(usr.ID))
	h.Write(usr.PasswordHash)
	if usr.LastLogin != nil {
		h.Write([]byte(strconv.FormatInt(usr.LastLogin.UTC().UnixNano(), 10)))
	}
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	return strconv.FormatInt(ts, 36) + "-" + base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (rt *resetTokens) hoursSinceEpoch(t time.Time) int64 {
	return int64(t.Sub(resetEpoch) / time.Hour)
}
