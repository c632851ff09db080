package push

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/errors"
)

/*
Service delivers task events to the webhook a client registered for a task.
Each delivery is a POST of the event JSON; failures are retried in the
background with exponential backoff so a flapping receiver never stalls task
execution.

When the service holds a signing key, every delivery carries a short-lived
RS256 JWT in the Authorization header so receivers can verify the sender.
*/
type Service struct {
	mu         sync.RWMutex
	configs    map[string]*a2a.PushNotificationConfig
	client     *http.Client
	signingKey *rsa.PrivateKey
	retry      *errors.RetryConfig
}

func NewService() *Service {
	return &Service{
		configs: make(map[string]*a2a.PushNotificationConfig),
		client:  &http.Client{Timeout: 10 * time.Second},
		retry:   errors.DefaultRetryConfig(),
	}
}

// WithSigningKey makes the service sign deliveries with the given RSA key.
func (service *Service) WithSigningKey(key *rsa.PrivateKey) *Service {
	service.signingKey = key
	return service
}

// SetConfig registers (or clears, with nil) the webhook for a task.
func (service *Service) SetConfig(taskID string, config *a2a.PushNotificationConfig) {
	service.mu.Lock()
	defer service.mu.Unlock()

	if config == nil {
		delete(service.configs, taskID)
		return
	}

	service.configs[taskID] = config
}

// GetConfig returns the registered webhook for a task, if any.
func (service *Service) GetConfig(taskID string) (*a2a.PushNotificationConfig, bool) {
	service.mu.RLock()
	defer service.mu.RUnlock()

	config, ok := service.configs[taskID]
	return config, ok
}

/*
Notify delivers the event to the task's webhook, if one is registered.
Delivery happens on the caller's goroutine only as far as the first attempt
queueing; retries run in the background.  Tasks without a webhook are a
silent no-op, which lets the engine fan events out unconditionally.
*/
func (service *Service) Notify(taskID string, event any) {
	service.mu.RLock()
	config, ok := service.configs[taskID]
	service.mu.RUnlock()

	if !ok {
		return
	}

	go func() {
		err := errors.RetryWithBackoff(service.retry, func() error {
			return service.deliver(taskID, config, event)
		})

		if err != nil {
			log.Error("push notification delivery failed",
				"taskID", taskID, "url", config.URL, "error", err)
		}
	}()
}

func (service *Service) deliver(taskID string, config *a2a.PushNotificationConfig, event any) error {
	payload, err := json.Marshal(event)

	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, config.URL, bytes.NewReader(payload))

	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if service.signingKey != nil {
		token, err := service.signToken(taskID)

		if err != nil {
			return fmt.Errorf("failed to sign delivery token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+token)
	} else if auth := config.Authentication; auth != nil && auth.Credentials != nil {
		for _, scheme := range auth.Schemes {
			if scheme == "Bearer" {
				req.Header.Set("Authorization", "Bearer "+*auth.Credentials)
			}
		}
	}

	if config.Token != nil {
		req.Header.Set("X-Task-Token", *config.Token)
	}

	resp, err := service.client.Do(req)

	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func (service *Service) signToken(taskID string) (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": taskID,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	})

	return token.SignedString(service.signingKey)
}
