// Package webhook reports final match results to the upstream matchmaking
// API. Every submission is signed with a keyed MAC over a canonical request
// string and carries a fresh idempotency key; the receiver deduplicates.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ugshanyu/space-craft-standalone/internal/sim"
)

const resultsPath = "/games/direct/results"

// MatchResult is the payload POSTed when a match terminates.
type MatchResult struct {
	RoomID       string               `json:"room_id"`
	SessionID    string               `json:"session_id"`
	WinnerIDs    []string             `json:"winner_ids"`
	Participants []string             `json:"participants"`
	Reason       string               `json:"reason"`
	FinalStats   map[string]sim.Stats `json:"final_stats"`
	EndedAt      string               `json:"ended_at"` // RFC 3339 UTC
}

// SubmitError reports a failed submission: either a transport error or a
// non-2xx response.
type SubmitError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook submit: %v", e.Err)
	}
	return fmt.Sprintf("webhook submit: status %d: %s", e.StatusCode, e.Body)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Signer posts signed match results to the matchmaking API.
type Signer struct {
	apiURL    string
	serviceID string
	keyID     string
	secret    []byte
	client    *http.Client
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewSigner builds a Signer for the given API base URL and shared secret.
func NewSigner(apiURL, serviceID, keyID, secret string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		apiURL:    apiURL,
		serviceID: serviceID,
		keyID:     keyID,
		secret:    []byte(secret),
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger.With("component", "webhook"),
		now:       time.Now,
	}
}

// Submit signs and POSTs the result, returning the decoded server response
// on 2xx. There is no retry at this layer; the match outcome already reached
// the clients.
func (s *Signer) Submit(ctx context.Context, result *MatchResult) (map[string]interface{}, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, &SubmitError{Err: fmt.Errorf("encode result: %w", err)}
	}

	endpoint := s.apiURL + resultsPath
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &SubmitError{Err: fmt.Errorf("parse api url: %w", err)}
	}

	ts := s.now().Unix()
	signature := s.Sign(ts, http.MethodPost, u.Path, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &SubmitError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Usion-Service-Id", s.serviceID)
	req.Header.Set("X-Usion-Key-Id", s.keyID)
	req.Header.Set("X-Usion-Signature", signature)
	req.Header.Set("X-Usion-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SubmitError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SubmitError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	decoded := map[string]interface{}{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return nil, &SubmitError{Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	s.logger.Info("match result submitted", "room_id", result.RoomID, "status", resp.StatusCode)
	return decoded, nil
}

// Sign computes the hex MAC over the canonical string
// "<unix>\n<METHOD>\n<path>\n<hex sha256(body)>".
func (s *Signer) Sign(ts int64, method, path string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	canonical := fmt.Sprintf("%d\n%s\n%s\n%s",
		ts, method, path, hex.EncodeToString(bodyHash[:]))
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
