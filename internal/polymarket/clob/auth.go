package clob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/daszybak/polytrader/internal/signing"
	"github.com/daszybak/polytrader/pkg/httpclient"
)

// ErrNoCredentials is returned by authenticated calls on a client without API credentials.
var ErrNoCredentials = errors.New("api credentials required")

const (
	headerAddress    = "POLY_ADDRESS"
	headerSignature  = "POLY_SIGNATURE"
	headerTimestamp  = "POLY_TIMESTAMP"
	headerNonce      = "POLY_NONCE"
	headerAPIKey     = "POLY_API_KEY"
	headerPassphrase = "POLY_PASSPHRASE"
)

// Credentials are the API key triple used for L2 authentication.
type Credentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// L1Signer proves control of the wallet.
type L1Signer interface {
	SignClobAuth(timestamp int64, nonce uint64) (signing.L1Headers, error)
}

// l2Headers signs method, path and body with the API secret.
func (c *Client) l2Headers(method, path string, body []byte) (http.Header, error) {
	if c.creds == nil || !c.creds.Valid() {
		return nil, ErrNoCredentials
	}

	ts := strconv.FormatInt(c.now().Unix(), 10)
	sig, err := hmacSignature(c.creds.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(headerAddress, c.address.Hex())
	h.Set(headerSignature, sig)
	h.Set(headerTimestamp, ts)
	h.Set(headerAPIKey, c.creds.APIKey)
	h.Set(headerPassphrase, c.creds.Passphrase)
	return h, nil
}

func hmacSignature(secret, timestamp, method, path string, body []byte) (string, error) {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		if key, err = base64.RawURLEncoding.DecodeString(secret); err != nil {
			return "", fmt.Errorf("couldn't decode api secret: %w", err)
		}
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *Client) l1Headers(nonce uint64) (http.Header, error) {
	if c.l1 == nil {
		return nil, errors.New("l1 signer required")
	}
	l1, err := c.l1.SignClobAuth(c.now().Unix(), nonce)
	if err != nil {
		return nil, fmt.Errorf("couldn't sign l1 auth: %w", err)
	}

	h := http.Header{}
	h.Set(headerAddress, l1.Address)
	h.Set(headerSignature, l1.Signature)
	h.Set(headerTimestamp, l1.Timestamp)
	h.Set(headerNonce, l1.Nonce)
	return h, nil
}

// CreateAPIKey registers new API credentials for the wallet.
func (c *Client) CreateAPIKey(ctx context.Context, nonce uint64) (Credentials, error) {
	h, err := c.l1Headers(nonce)
	if err != nil {
		return Credentials{}, err
	}
	creds, err := httpclient.Do[Credentials](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Method: http.MethodPost,
		Path:   "/auth/api-key",
		Header: h,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("couldn't create api key: %w", err)
	}
	return creds, nil
}

// DeriveAPIKey returns the credentials previously created with nonce.
func (c *Client) DeriveAPIKey(ctx context.Context, nonce uint64) (Credentials, error) {
	h, err := c.l1Headers(nonce)
	if err != nil {
		return Credentials{}, err
	}
	creds, err := httpclient.Do[Credentials](ctx, c.httpClient, c.baseURL, httpclient.Endpoint{
		Path:   "/auth/derive-api-key",
		Header: h,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("couldn't derive api key: %w", err)
	}
	return creds, nil
}

// CreateOrDeriveAPIKey creates credentials, or derives them when they exist already.
func (c *Client) CreateOrDeriveAPIKey(ctx context.Context, nonce uint64) (Credentials, error) {
	creds, err := c.CreateAPIKey(ctx, nonce)
	if err == nil && creds.Valid() {
		return creds, nil
	}
	c.logger.Debug("couldn't create api key, deriving", "error", err)
	return c.DeriveAPIKey(ctx, nonce)
}

// SetCredentials enables L2 authentication for address. It must not be called
// concurrently with requests.
func (c *Client) SetCredentials(address common.Address, creds Credentials) {
	c.address = address
	c.creds = &creds
}
