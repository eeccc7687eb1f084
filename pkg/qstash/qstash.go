package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

type Config struct {
	URL   string `split_words:"true" default:"https://qstash.upstash.io"`
	Token string `split_words:"true" required:"true"`
	// Destination is the channel gateway endpoint QStash delivers replies to.
	Destination string        `split_words:"true" required:"true"`
	Retries     int           `split_words:"true" default:"3"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Client publishes outbound replies through QStash so delivery to the
// channel gateway is retried outside the request path.
type Client struct {
	baseURL     string
	token       string
	destination string
	retries     int
	httpClient  *http.Client
}

var _ contractx.ChannelSender = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}
	destination := strings.TrimSpace(cfg.Destination)
	if _, err := url.ParseRequestURI(destination); err != nil {
		return nil, fmt.Errorf("qstash destination: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       strings.TrimSpace(cfg.Token),
		destination: destination,
		retries:     cfg.Retries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type publishResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Send publishes msg for channelID. The inbound message id doubles as the
// deduplication id so a retried turn does not send the reply twice.
func (c *Client) Send(ctx context.Context, channelID string, msg contractx.OutboundMessage) error {
	body, err := json.Marshal(struct {
		ChannelID string `json:"channel_id"`
		contractx.OutboundMessage
	}{ChannelID: channelID, OutboundMessage: msg})
	if err != nil {
		return fmt.Errorf("qstash: encode message: %w", err)
	}

	endpoint := c.baseURL + "/v2/publish/" + c.destination
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("qstash: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Retries", fmt.Sprint(c.retries))
	req.Header.Set("Upstash-Forward-X-Channel-Id", channelID)
	if msg.MessageID != "" {
		req.Header.Set("Upstash-Deduplication-Id", msg.WorkspaceID+":"+msg.SessionID+":"+msg.MessageID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: qstash publish: %v", contractx.ErrTransientBackend, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("%w: qstash read response: %v", contractx.ErrTransientBackend, err)
	}
	var out publishResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: qstash status %d: %s", contractx.ErrTransientBackend, resp.StatusCode, out.Error)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: qstash status %d: %s", contractx.ErrFatalBackend, resp.StatusCode, out.Error)
	}

	zerolog.Ctx(ctx).Debug().
		Str("qstash_message_id", out.MessageID).
		Str("channel_id", channelID).
		Msg("reply published")
	return nil
}
