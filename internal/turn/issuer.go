// Package turn issues short-lived TURN relay credentials using the
// shared-secret scheme of the TURN REST API (coturn use-auth-secret).
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

const DefaultTTL = 24 * time.Hour

// ErrNoSecret is a server misconfiguration, not a client error.
var ErrNoSecret = errors.New("turn: secret not configured")

type Credential struct {
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTL        int      `json:"ttl"`
	URLs       []string `json:"urls"`
}

type Issuer struct {
	secret []byte
	host   string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, host string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), host: host, ttl: ttl, now: time.Now}
}

// Issue returns a credential for userID valid for the issuer's TTL. The
// username is "<expiry unix>:<userID>" and the password its HMAC-SHA1.
func (i *Issuer) Issue(userID string) (Credential, error) {
	if len(i.secret) == 0 {
		return Credential{}, ErrNoSecret
	}
	expiry := i.now().Add(i.ttl).Unix()
	username := strconv.FormatInt(expiry, 10) + ":" + userID
	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(username))
	return Credential{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		TTL:        int(i.ttl / time.Second),
		URLs: []string{
			"turn:" + i.host + ":3478",
			"turn:" + i.host + ":3478?transport=tcp",
			"turns:" + i.host + ":5349",
		},
	}, nil
}
