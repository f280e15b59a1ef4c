package eventsub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	headerMessageID   = "Twitch-Eventsub-Message-Id"
	headerTimestamp   = "Twitch-Eventsub-Message-Timestamp"
	headerSignature   = "Twitch-Eventsub-Message-Signature"
	headerMessageType = "Twitch-Eventsub-Message-Type"

	messageTypeVerification = "webhook_callback_verification"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"

	// SubTypeRedemptionAdd is the one subscription type this service acts on.
	SubTypeRedemptionAdd = "channel.channel_points_custom_reward_redemption.add"

	signaturePrefix = "sha256="

	replayCacheSize = 256

	// dispatchTimeout bounds the decoupled downstream work for one
	// notification; the 204 ack has long been written by then.
	dispatchTimeout = 30 * time.Second
)

// Redemption is a normalized channel-point redemption handed to the router.
type Redemption struct {
	RequestedBy string
	Input       string
	RewardTitle string
	MessageID   string
}

// HandlerConfig configures the webhook ingress.
type HandlerConfig struct {
	// Secret is the HMAC secret shared with the subscription transport.
	Secret string
	// RewardTitle selects which custom reward is routed; everything else is
	// acknowledged and ignored.
	RewardTitle string
	// OnRedemption receives verified, deduplicated redemptions.
	OnRedemption func(ctx context.Context, r Redemption)
	// OnRevocation observes provider-side subscription cancellation. Optional.
	OnRevocation func(subType, status string)
}

// Handler is the webhook ingress: it authenticates EventSub deliveries,
// answers the ownership handshake, suppresses duplicate message ids, and
// hands matching redemptions off without making the provider wait on them.
type Handler struct {
	secret       []byte
	rewardTitle  string
	onRedemption func(ctx context.Context, r Redemption)
	onRevocation func(subType, status string)
	seen         *replayCache

	// dispatch decouples downstream processing from the acknowledgment
	// path; tests replace it with an inline call.
	dispatch func(func())
}

// NewHandler creates the ingress handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		secret:       []byte(cfg.Secret),
		rewardTitle:  strings.TrimSpace(cfg.RewardTitle),
		onRedemption: cfg.OnRedemption,
		onRevocation: cfg.OnRevocation,
		seen:         newReplayCache(replayCacheSize),
		dispatch:     func(f func()) { go f() },
	}
}

type notificationPayload struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"subscription"`
	Event struct {
		UserName  string `json:"user_name"`
		UserLogin string `json:"user_login"`
		UserInput string `json:"user_input"`
		Reward    struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"reward"`
	} `json:"event"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.serveGet(w, r)
	case http.MethodPost:
		h.servePost(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// serveGet answers the legacy query-parameter verification if present, and
// otherwise reports readiness for manual probes.
func (h *Handler) serveGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if challenge := r.URL.Query().Get("hub.challenge"); challenge != "" {
		_, _ = w.Write([]byte(challenge))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) servePost(w http.ResponseWriter, r *http.Request) {
	// Signature verification must run over the exact bytes received; any
	// re-serialization would desync the HMAC.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	msgType := strings.ToLower(strings.TrimSpace(r.Header.Get(headerMessageType)))

	// The provider has not armed signing yet at handshake time, so the
	// challenge echo happens before any signature check.
	if msgType == messageTypeVerification {
		var payload notificationPayload
		if err := json.Unmarshal(body, &payload); err != nil || payload.Challenge == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		slog.Info("webhook verification challenge answered", "subscription", payload.Subscription.ID)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(payload.Challenge))
		return
	}

	msgID := r.Header.Get(headerMessageID)
	timestamp := r.Header.Get(headerTimestamp)
	signature := r.Header.Get(headerSignature)
	if msgID == "" || timestamp == "" || signature == "" {
		slog.Warn("webhook missing correlation headers", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if !validSignature(h.secret, msgID, timestamp, body, signature) {
		slog.Warn("webhook signature mismatch", "message_id", msgID, "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	// At-least-once delivery: a replayed message id is acknowledged but
	// never reprocessed, whatever its type.
	if !h.seen.Add(msgID) {
		slog.Info("duplicate webhook delivery suppressed", "message_id", msgID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch msgType {
	case messageTypeNotification:
		h.handleNotification(msgID, body)
	case messageTypeRevocation:
		h.handleRevocation(body)
	default:
		// Authenticated but unrecognized: acknowledge anyway, a non-2xx
		// would only earn us a retry storm.
		slog.Debug("webhook message type ignored", "type", msgType, "message_id", msgID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotification(msgID string, body []byte) {
	var payload notificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("webhook notification payload unparseable", "message_id", msgID, "error", err)
		return
	}

	if payload.Subscription.Type != SubTypeRedemptionAdd {
		slog.Debug("webhook subscription type ignored",
			"type", payload.Subscription.Type,
			"message_id", msgID,
		)
		return
	}
	if h.rewardTitle != "" && !strings.EqualFold(strings.TrimSpace(payload.Event.Reward.Title), h.rewardTitle) {
		slog.Debug("redemption for unrelated reward ignored",
			"reward", payload.Event.Reward.Title,
			"message_id", msgID,
		)
		return
	}

	requestedBy := payload.Event.UserName
	if requestedBy == "" {
		requestedBy = payload.Event.UserLogin
	}
	redemption := Redemption{
		RequestedBy: requestedBy,
		Input:       payload.Event.UserInput,
		RewardTitle: payload.Event.Reward.Title,
		MessageID:   msgID,
	}

	slog.Info("redemption received",
		"requested_by", redemption.RequestedBy,
		"input", redemption.Input,
		"message_id", msgID,
	)

	if h.onRedemption == nil {
		return
	}
	// Downstream resolution and enqueue are slow network calls; they run
	// after the ack so the provider never times out waiting on them.
	h.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		h.onRedemption(ctx, redemption)
	})
}

func (h *Handler) handleRevocation(body []byte) {
	var payload notificationPayload
	_ = json.Unmarshal(body, &payload)
	slog.Error("eventsub subscription revoked",
		"subscription", payload.Subscription.ID,
		"type", payload.Subscription.Type,
		"status", payload.Subscription.Status,
	)
	if h.onRevocation != nil {
		h.onRevocation(payload.Subscription.Type, payload.Subscription.Status)
	}
}

// validSignature checks sha256=<hex HMAC-SHA256(secret, id+timestamp+body)>
// in constant time.
func validSignature(secret []byte, msgID, timestamp string, body []byte, got string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msgID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	want := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(got))
}
