package api

import (
	"context"

	"github.com/guildwire/guildwire/internal/models"
	"github.com/guildwire/guildwire/internal/ratelimit"
)

// Routes used by the typed endpoint helpers.
var (
	RouteGetGateway     = ratelimit.NewRoute("GET", "/gateway")
	RouteGetGatewayBot  = ratelimit.NewRoute("GET", "/gateway/bot")
	RouteGetCurrentUser = ratelimit.NewRoute("GET", "/users/@me")
	RouteGetGuild       = ratelimit.NewRoute("GET", "/guilds/{guild_id}")
	RouteGetGuildRoles  = ratelimit.NewRoute("GET", "/guilds/{guild_id}/roles")
	RouteModifyRole     = ratelimit.NewRoute("PATCH", "/guilds/{guild_id}/roles/{role_id}")
	RouteCreateMessage  = ratelimit.NewRoute("POST", "/channels/{channel_id}/messages")
	RouteDeleteChannel  = ratelimit.NewRoute("DELETE", "/channels/{channel_id}")
)

// RoleUpdate is the body of a modify-role call. Nil fields are left unchanged.
type RoleUpdate struct {
	Name        *string             `json:"name,omitempty"`
	Permissions *models.Permissions `json:"permissions,omitempty"`
	Color       *int                `json:"color,omitempty"`
	Hoist       *bool               `json:"hoist,omitempty"`
	Mentionable *bool               `json:"mentionable,omitempty"`
}

// MessageCreate is the body of a create-message call.
type MessageCreate struct {
	Content string `json:"content"`
	TTS     bool   `json:"tts,omitempty"`
}

// GetGateway returns the gateway URL for client accounts.
func (c *Client) GetGateway(ctx context.Context) (string, error) {
	var out models.GatewayBot
	if err := c.Do(ctx, RouteGetGateway.MustCompile(), nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// GetGatewayBot returns the gateway URL and identify budget for bot accounts.
func (c *Client) GetGatewayBot(ctx context.Context) (*models.GatewayBot, error) {
	var out models.GatewayBot
	if err := c.Do(ctx, RouteGetGatewayBot.MustCompile(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCurrentUser returns the account the token belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.Do(ctx, RouteGetCurrentUser.MustCompile(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGuildRoles lists a guild's roles.
func (c *Client) GetGuildRoles(ctx context.Context, guildID models.Snowflake) ([]models.Role, error) {
	var out []models.Role
	if err := c.Do(ctx, RouteGetGuildRoles.MustCompile(guildID.String()), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ModifyRole updates a role and returns its new state.
func (c *Client) ModifyRole(ctx context.Context, guildID, roleID models.Snowflake, update RoleUpdate, opts ...RequestOption) (*models.Role, error) {
	var out models.Role
	route := RouteModifyRole.MustCompile(guildID.String(), roleID.String())
	if err := c.Do(ctx, route, update, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID models.Snowflake, msg MessageCreate) (*models.Message, error) {
	var out models.Message
	if err := c.Do(ctx, RouteCreateMessage.MustCompile(channelID.String()), msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChannel deletes a channel and returns its last state.
func (c *Client) DeleteChannel(ctx context.Context, channelID models.Snowflake, opts ...RequestOption) (*models.Channel, error) {
	var out models.Channel
	if err := c.Do(ctx, RouteDeleteChannel.MustCompile(channelID.String()), nil, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}
