package eventsub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"solenne/pointbeat/lib/store"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	helixSubscriptionsURL = "https://api.twitch.tv/helix/eventsub/subscriptions"
	twitchTokenURL        = "https://id.twitch.tv/oauth2/token"
)

// Subscriber manages the EventSub subscription this service depends on,
// authenticating to Helix with an app access token. The token is obtained
// via the client-credentials grant and cached through the credential store.
type Subscriber struct {
	clientID   string
	creds      *clientcredentials.Config
	storage    store.Store
	httpClient *http.Client
}

// NewSubscriber creates a subscription manager.
func NewSubscriber(clientID, clientSecret string, storage store.Store) *Subscriber {
	return &Subscriber{
		clientID: clientID,
		creds: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     twitchTokenURL,
		},
		storage:    storage,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureRedemptionSubscription verifies that a redemption-add subscription
// for the broadcaster exists and creates one when it does not. Best effort
// at startup: a failure here means deliveries will not flow, not that the
// process cannot run.
func (s *Subscriber) EnsureRedemptionSubscription(ctx context.Context, broadcasterID, callbackURL, secret string) error {
	if broadcasterID == "" || callbackURL == "" {
		return fmt.Errorf("eventsub subscription needs a broadcaster id and callback url")
	}

	token, err := s.appToken(ctx)
	if err != nil {
		return fmt.Errorf("twitch app token: %w", err)
	}

	exists, err := s.subscriptionExists(ctx, token, broadcasterID)
	if err != nil {
		return err
	}
	if exists {
		slog.Info("eventsub subscription already active", "broadcaster_id", broadcasterID)
		return nil
	}
	return s.createSubscription(ctx, token, broadcasterID, callbackURL, secret)
}

// appToken returns a valid app access token, preferring the stored one and
// refreshing through the client-credentials grant when it has expired.
func (s *Subscriber) appToken(ctx context.Context) (string, error) {
	if cred := s.storage.GetCredential(store.DomainTwitch); cred != nil && cred.Valid() {
		return cred.AccessToken, nil
	}

	tok, err := s.creds.Token(ctx)
	if err != nil {
		return "", err
	}
	if err := s.storage.WriteCredential(store.DomainTwitch, store.FromOAuthToken(tok)); err != nil {
		slog.Warn("failed to persist twitch app token", "error", err)
	}
	return tok.AccessToken, nil
}

type helixSubscription struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Condition struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	} `json:"condition"`
}

func (s *Subscriber) subscriptionExists(ctx context.Context, token, broadcasterID string) (bool, error) {
	endpoint := helixSubscriptionsURL + "?type=" + url.QueryEscape(SubTypeRedemptionAdd)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	s.authHeaders(req, token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("list eventsub subscriptions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("list eventsub subscriptions: %s", helixErrorSummary(resp))
	}

	var payload struct {
		Data []helixSubscription `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, err
	}
	for _, sub := range payload.Data {
		if sub.Condition.BroadcasterUserID != broadcasterID {
			continue
		}
		switch sub.Status {
		case "enabled", "webhook_callback_verification_pending":
			return true, nil
		}
	}
	return false, nil
}

func (s *Subscriber) createSubscription(ctx context.Context, token, broadcasterID, callbackURL, secret string) error {
	body, err := json.Marshal(map[string]interface{}{
		"type":    SubTypeRedemptionAdd,
		"version": "1",
		"condition": map[string]string{
			"broadcaster_user_id": broadcasterID,
		},
		"transport": map[string]string{
			"method":   "webhook",
			"callback": callbackURL,
			"secret":   secret,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, helixSubscriptionsURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.authHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("create eventsub subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("create eventsub subscription: %s", helixErrorSummary(resp))
	}
	slog.Info("eventsub subscription created", "broadcaster_id", broadcasterID, "callback", callbackURL)
	return nil
}

func (s *Subscriber) authHeaders(req *http.Request, token string) {
	req.Header.Set("Client-Id", s.clientID)
	req.Header.Set("Authorization", "Bearer "+token)
}

func helixErrorSummary(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	summary := strings.TrimSpace(string(body))
	if summary == "" {
		return resp.Status
	}
	return fmt.Sprintf("http %d: %s", resp.StatusCode, summary)
}
