package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"marketnotify/internal/model"
)

// PushChannel posts to a push gateway webhook.
type PushChannel struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type pushPayload struct {
	UserID         string         `json:"user_id"`
	NotificationID string         `json:"notification_id"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Category       model.Category `json:"category"`
	Priority       model.Priority `json:"priority"`
	ActionURL      *string        `json:"action_url,omitempty"`
}

// NewPushChannel client may be nil.
func NewPushChannel(endpoint, apiKey string, client *http.Client) (*PushChannel, error) {
	if endpoint == "" {
		return nil, errors.New("push: endpoint is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &PushChannel{endpoint: endpoint, apiKey: apiKey, client: client}, nil
}

func (c *PushChannel) Name() model.Channel {
	return model.ChannelPush
}

func (c *PushChannel) Send(ctx context.Context, n *model.Notification) error {
	body, err := json.Marshal(pushPayload{
		UserID:         n.UserID,
		NotificationID: strconv.FormatInt(n.ID, 10),
		Title:          n.Title,
		Body:           n.Message,
		Category:       n.Category,
		Priority:       n.Priority,
		ActionURL:      n.ActionURL,
	})
	if err != nil {
		return fmt.Errorf("push: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push: gateway returned %d", resp.StatusCode)
	}
	return nil
}
