package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/driftlabs/pylon/wire"
)

// GatewayInfo is the response of the gateway metadata endpoints. Shards is
// only populated by the bot variant.
type GatewayInfo struct {
	URL    string `json:"url"`
	Shards int    `json:"shards,omitempty"`
}

// GatewayBot fetches the gateway URL and the recommended shard count for the
// authenticated bot.
func (c *Client) GatewayBot(ctx context.Context) (*GatewayInfo, error) {
	data, err := c.Do(ctx, "GET", "/gateway/bot", "GET:/gateway/bot", nil)
	if err != nil {
		return nil, err
	}
	return decode[GatewayInfo](data)
}

// Gateway fetches the gateway URL without shard metadata. Used for selfbot
// mode, where the bot endpoint is unavailable.
func (c *Client) Gateway(ctx context.Context) (*GatewayInfo, error) {
	data, err := c.Do(ctx, "GET", "/gateway", "GET:/gateway", nil)
	if err != nil {
		return nil, err
	}
	return decode[GatewayInfo](data)
}

// CreateMessage posts a plain-text message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID, content string) (*wire.Message, error) {
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	data, err := c.Do(ctx, "POST", path, "POST:/channels/*/messages",
		map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	return decode[wire.Message](data)
}

// CurrentUser fetches the authenticated account's user object.
func (c *Client) CurrentUser(ctx context.Context) (*wire.User, error) {
	data, err := c.Do(ctx, "GET", "/users/@me", "GET:/users/@me", nil)
	if err != nil {
		return nil, err
	}
	return decode[wire.User](data)
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("rest: decode response: %w", err)
	}
	return &v, nil
}
