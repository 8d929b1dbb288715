package session

import (
	"time"

	"github.com/gorilla/securecookie"
)

// Codec turns session IDs into signed, timestamped cookie values and back.
type Codec struct {
	sc *securecookie.SecureCookie
}

// NewCodec returns a codec keyed by secret. Values older than ttl no longer
// decode; a zero ttl disables the age check.
func NewCodec(secret string, ttl time.Duration) *Codec {
	sc := securecookie.New([]byte(secret), nil)
	sc.MaxAge(int(ttl.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Codec{sc: sc}
}

// Encode signs sid for use as the session cookie value.
func (c *Codec) Encode(sid string) (string, error) {
	return c.sc.Encode(CookieName, sid)
}

// Decode verifies a cookie value and returns the session ID inside it.
func (c *Codec) Decode(value string) (string, error) {
	var sid string
	if err := c.sc.Decode(CookieName, value, &sid); err != nil {
		return "", err
	}
	return sid, nil
}
