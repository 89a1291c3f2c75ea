package auth

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/patrickmn/go-cache"

	apperrors "github.com/chainsafe/icco-contributor/pkg/app/errors"
	apphttp "github.com/chainsafe/icco-contributor/pkg/app/http"
)

// Headers carrying the buyer's EIP-191 proof of address ownership.
const (
	HeaderSignature = "X-Signature"
	HeaderMessage   = "X-Message"
)

const (
	// MaxMessageAge bounds how far a signed message timestamp may drift from now.
	MaxMessageAge = 5 * time.Minute
	// MaxBodyBytes caps the request body a buyer signature can cover.
	MaxBodyBytes = 1 << 20
)

// BodyHash is the 0x-prefixed keccak256 of a request body.
func BodyHash(body []byte) string {
	return crypto.Keccak256Hash(body).Hex()
}

// BuyerMessage returns the message a buyer signs to authorize exactly one
// request: "<METHOD> <PATH> <UNIX_SECONDS> <BODY_KECCAK256>".
func BuyerMessage(method, path string, at time.Time, body []byte) string {
	return fmt.Sprintf("%s %s %d %s", method, path, at.Unix(), BodyHash(body))
}

// BuyerAuth authenticates buyers by EIP-191 signature and accepts each
// signed message once.
type BuyerAuth struct {
	now  func() time.Time
	used *cache.Cache
}

// NewBuyerAuth creates a BuyerAuth. Used messages are remembered for twice
// MaxMessageAge, past which their timestamp is rejected anyway.
func NewBuyerAuth() *BuyerAuth {
	return &BuyerAuth{
		now:  time.Now,
		used: cache.New(2*MaxMessageAge, MaxMessageAge),
	}
}

// Middleware recovers the signer of X-Message from X-Signature and stores it
// in the request context. The message must match the request method, path
// and body, carry a fresh timestamp and not have been used before.
func (a *BuyerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(HeaderSignature)
		message := r.Header.Get(HeaderMessage)
		if signature == "" || message == "" {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "signature and message required"))
			return
		}

		body, err := readBody(r)
		if err != nil {
			apphttp.DefaultErrorHandler(w, apperrors.BadRequestError(err, "invalid request body"))
			return
		}
		if err := checkBuyerMessage(r, body, message, a.now()); err != nil {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid message"))
			return
		}

		buyer, err := VerifyEIP191Signature(message, signature)
		if err != nil {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid signature"))
			return
		}
		if err := a.used.Add(replayKey(buyer, message), struct{}{}, cache.DefaultExpiration); err != nil {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "message already used"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithBuyer(r.Context(), buyer)))
	})
}

func replayKey(buyer common.Address, message string) string {
	return buyer.Hex() + "|" + message
}

// readBody consumes the request body and puts an identical reader back.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", MaxBodyBytes)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func checkBuyerMessage(r *http.Request, body []byte, message string, now time.Time) error {
	fields := strings.Fields(message)
	if len(fields) != 4 {
		return fmt.Errorf("message must be \"<METHOD> <PATH> <UNIX_SECONDS> <BODY_KECCAK256>\"")
	}
	if fields[0] != r.Method || fields[1] != r.URL.Path {
		return fmt.Errorf("message is for %s %s", fields[0], fields[1])
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message timestamp: %w", err)
	}
	if age := now.Sub(time.Unix(ts, 0)); age > MaxMessageAge || age < -MaxMessageAge {
		return fmt.Errorf("message timestamp outside %s window", MaxMessageAge)
	}
	if !strings.EqualFold(fields[3], BodyHash(body)) {
		return fmt.Errorf("message does not cover the request body")
	}
	return nil
}
