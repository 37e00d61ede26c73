// Package push delivers task updates to registered outbound webhooks.
// Each delivery is an independent retry loop with exponential backoff;
// receivers must be idempotent.
package push

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/telemetry"
)

const (
	headerToken     = "x-a2a-token"
	headerSignature = "x-a2a-signature"
	headerTimestamp = "x-a2a-timestamp"
)

// Config tunes the notifier's retry and token behavior.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	Timeout     time.Duration
	JWTTTL      time.Duration
	JWTSkew     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: 200 * time.Millisecond,
		Timeout:     10 * time.Second,
		JWTTTL:      5 * time.Minute,
		JWTSkew:     2 * time.Minute,
	}
}

// Notifier posts {"streamResponse": payload} envelopes to webhook targets.
type Notifier struct {
	config Config
	client *http.Client

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewNotifier builds a notifier with its own pooled client.
func NewNotifier(config Config) *Notifier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultConfig().BackoffBase
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.JWTTTL <= 0 {
		config.JWTTTL = DefaultConfig().JWTTTL
	}
	if config.JWTSkew <= 0 {
		config.JWTSkew = DefaultConfig().JWTSkew
	}

	return &Notifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Dispatch queues a delivery on its own goroutine. Store writes never wait
// on webhook I/O.
func (notifier *Notifier) Dispatch(payload map[string]any, cfg *a2a.PushConfig) {
	go func() {
		if err := notifier.Deliver(payload, cfg); err != nil {
			log.Warn("push delivery failed", "url", cfg.URL, "task", cfg.TaskID, "error", err)
		}
	}()
}

// Deliver posts the payload to the config's URL, signing per the config,
// retrying on transport errors and 5xx responses. 4xx responses terminate
// immediately. Returns nil on the first 2xx.
func (notifier *Notifier) Deliver(payload map[string]any, cfg *a2a.PushConfig) error {
	if cfg == nil || cfg.URL == "" {
		return ErrNoURL
	}

	body, err := json.Marshal(map[string]any{"streamResponse": payload})
	if err != nil {
		return err
	}

	taskID := taskIDFromPayload(payload, cfg)

	var lastErr error
	for attempt := 1; attempt <= notifier.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			notifier.sleep(notifier.config.BackoffBase * (1 << (attempt - 2)))
		}

		telemetry.Emit(telemetry.PushStart, "task_id", taskID, "url", cfg.URL, "attempt", attempt)

		status, err := notifier.post(body, cfg)
		switch {
		case err != nil:
			lastErr = err
			telemetry.Emit(telemetry.PushFailure, "task_id", taskID, "url", cfg.URL, "attempt", attempt, "reason", err.Error())
		case status >= 200 && status < 300:
			telemetry.Emit(telemetry.PushSuccess, "task_id", taskID, "url", cfg.URL, "attempt", attempt, "status", status)
			return nil
		case status >= 500:
			lastErr = fmt.Errorf("webhook returned status %d", status)
			telemetry.Emit(telemetry.PushFailure, "task_id", taskID, "url", cfg.URL, "attempt", attempt, "status", status)
		default:
			// Client errors are final, retrying cannot help.
			telemetry.Emit(telemetry.PushFailure, "task_id", taskID, "url", cfg.URL, "attempt", attempt, "status", status)
			return &HTTPError{Status: status}
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrMaxAttempts, notifier.config.MaxAttempts, lastErr)
}

func (notifier *Notifier) post(body []byte, cfg *a2a.PushConfig) (int, error) {
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	if cfg.Token != "" {
		req.Header.Set(headerToken, cfg.Token)
	}

	if cfg.HMACSecret != "" {
		ts := strconv.FormatInt(notifier.now().Unix(), 10)
		req.Header.Set(headerTimestamp, ts)
		req.Header.Set(headerSignature, SignHMAC(cfg.HMACSecret, ts, body))
	}

	if cfg.JWTSecret != "" {
		token, err := notifier.signJWT(cfg, body)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := notifier.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// SignHMAC computes the lowercase hex HMAC-SHA256 over "<ts>.<body>".
func SignHMAC(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// signJWT builds the HS256 webhook token: iat/exp/nbf window, a SHA-256
// body hash claim, and the optional issuer/audience/task claims.
func (notifier *Notifier) signJWT(cfg *a2a.PushConfig, body []byte) (string, error) {
	now := notifier.now()
	hash := sha256.Sum256(body)

	claims := jwt.MapClaims{
		"iat":  now.Unix(),
		"exp":  now.Add(notifier.config.JWTTTL).Unix(),
		"nbf":  now.Add(-notifier.config.JWTSkew).Unix(),
		"hash": hex.EncodeToString(hash[:]),
	}

	if cfg.JWTIssuer != "" {
		claims["iss"] = cfg.JWTIssuer
	}
	if cfg.JWTAudience != "" {
		claims["aud"] = cfg.JWTAudience
	}
	if cfg.TaskID != "" {
		claims["taskId"] = cfg.TaskID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if cfg.JWTKid != "" {
		token.Header["kid"] = cfg.JWTKid
	}

	return token.SignedString([]byte(cfg.JWTSecret))
}

func taskIDFromPayload(payload map[string]any, cfg *a2a.PushConfig) string {
	if cfg.TaskID != "" {
		return cfg.TaskID
	}
	if task, ok := payload["task"].(map[string]any); ok {
		if id, ok := task["id"].(string); ok {
			return id
		}
	}
	for _, key := range []string{"statusUpdate", "artifactUpdate"} {
		if update, ok := payload[key].(map[string]any); ok {
			if id, ok := update["taskId"].(string); ok {
				return id
			}
		}
	}
	return ""
}
