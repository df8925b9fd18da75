package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anime-shed/cloudsight-go/pkg/config"
	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
)

const (
	signatureMethod = "HMAC-SHA1"
	oauthVersion    = "1.0"
)

// OAuth1 signs requests with HMAC-SHA1 as described in RFC 5849
type OAuth1 struct {
	Credentials config.OAuthCredentials

	// Now and Nonce are replaceable for deterministic signatures
	Now   func() time.Time
	Nonce func() string
}

func NewOAuth1(creds config.OAuthCredentials) *OAuth1 {
	return &OAuth1{
		Credentials: creds,
		Now:         time.Now,
		Nonce: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

// Authorization returns an "OAuth ..." header signed over method, URL and params
func (o *OAuth1) Authorization(method, rawURL string, params url.Values) (string, error) {
	attrs := o.attributes()
	base, err := signatureBase(method, rawURL, withoutImage(params), attrs)
	if err != nil {
		return "", err
	}
	attrs["oauth_signature"] = o.sign(base)

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(attrs[k])))
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

// SignatureBase returns the string that would be signed for the request
func (o *OAuth1) SignatureBase(method, rawURL string, params url.Values) (string, error) {
	return signatureBase(method, rawURL, withoutImage(params), o.attributes())
}

func (o *OAuth1) attributes() map[string]string {
	attrs := map[string]string{
		"oauth_consumer_key":     o.Credentials.ConsumerKey,
		"oauth_nonce":            o.Nonce(),
		"oauth_signature_method": signatureMethod,
		"oauth_timestamp":        strconv.FormatInt(o.Now().Unix(), 10),
		"oauth_version":          oauthVersion,
	}
	if o.Credentials.Token != "" {
		attrs["oauth_token"] = o.Credentials.Token
	}
	return attrs
}

func (o *OAuth1) sign(base string) string {
	key := percentEncode(o.Credentials.ConsumerSecret) + "&" + percentEncode(o.Credentials.TokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signatureBase(method, rawURL string, params url.Values, attrs map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", apperrors.NewValidationError("cannot sign request URL", err)
	}

	var pairs [][2]string
	add := func(k, v string) {
		pairs = append(pairs, [2]string{percentEncode(k), percentEncode(v)})
	}
	for k, v := range attrs {
		add(k, v)
	}
	for k, vs := range params {
		for _, v := range vs {
			add(k, v)
		}
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			add(k, v)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	joined := make([]string, len(pairs))
	for i, p := range pairs {
		joined[i] = p[0] + "=" + p[1]
	}

	return strings.Join([]string{
		strings.ToUpper(method),
		percentEncode(normalizeURL(u)),
		percentEncode(strings.Join(joined, "&")),
	}, "&"), nil
}

func normalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// percentEncode escapes everything outside the RFC 3986 unreserved set
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
