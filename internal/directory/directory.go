// internal/directory/directory.go
//
// Identity provider client.
//
// Context
// -------
// Tenants link their panel record to a Discord guild.  This package is
// the only place that talks to the Discord API: member role lookups
// for the authorization engine, guild icon resolution for the tenant
// list, the OAuth2 login exchange, and fire-and-forget channel
// notifications when a new log arrives.
//
// Role lookups use the bot token against the guild members endpoint.
// A 404 means the user simply is not in the guild and resolves to an
// empty role set, not an error.  Icons are cached for an hour since
// guild branding rarely changes.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/guildlogs/panel/internal/cache"
	"github.com/guildlogs/panel/internal/metrics"
)

const (
	// iconTTL is the freshness window for cached guild icons.
	iconTTL = time.Hour

	httpTimeout = 10 * time.Second
)

// User is the OAuth identity returned after login.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Avatar        string `json:"avatar"`
	Discriminator string `json:"discriminator"`
}

// Client talks to the identity provider.
type Client struct {
	apiBase  string
	botToken string
	http     *http.Client
	oauth    *oauth2.Config
	icons    *cache.Store[string]
}

// Config carries the provider credentials.
type Config struct {
	APIBase      string // e.g. https://discord.com/api
	BotToken     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// New builds a Client.
func New(cfg Config) *Client {
	return &Client{
		apiBase:  cfg.APIBase,
		botToken: cfg.BotToken,
		http:     &http.Client{Timeout: httpTimeout},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.APIBase + "/oauth2/authorize",
				TokenURL: cfg.APIBase + "/oauth2/token",
			},
		},
		icons: cache.NewStore[string](iconTTL),
	}
}

// AuthURL returns the provider login URL for the given CSRF state.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an OAuth callback code for the authenticated user.
func (c *Client) Exchange(ctx context.Context, code string) (*User, error) {
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/users/@me", nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch user: status %d", resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

// MemberRoles returns the role IDs the user holds in a guild.  A
// member that is not in the guild resolves to an empty set.
func (c *Client) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	metrics.RoleLookupTotal.Inc()

	url := fmt.Sprintf("%s/guilds/%s/members/%s", c.apiBase, guildID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("member lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("member lookup: status %d: %s", resp.StatusCode, body)
	}

	var member struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&member); err != nil {
		return nil, fmt.Errorf("decode member: %w", err)
	}
	return member.Roles, nil
}

// GuildIcon returns the CDN URL of a guild's icon, or "" when the
// guild has none.  Results are cached for an hour.
func (c *Client) GuildIcon(ctx context.Context, guildID string) string {
	if url, ok := c.icons.Get(guildID); ok {
		metrics.CacheHitTotal.WithLabelValues("icon").Inc()
		return url
	}
	metrics.CacheMissTotal.WithLabelValues("icon").Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/guilds/"+guildID, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)

	resp, err := c.http.Do(req)
	if err != nil {
		zap.S().Debugw("guild icon lookup failed", "guild", guildID, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var guild struct {
		Icon string `json:"icon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&guild); err != nil {
		return ""
	}

	var url string
	if guild.Icon != "" {
		url = fmt.Sprintf("https://cdn.discordapp.com/icons/%s/%s.png", guildID, guild.Icon)
	}
	c.icons.Set(guildID, url) // cache the empty result too
	return url
}

// Embed is a notification embed payload.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// EmbedField is a single name/value row inside an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Notify posts an embed to a channel.  Failures are logged and
// swallowed; notifications are best effort and must never affect the
// ingest path that triggers them.
func (c *Client) Notify(ctx context.Context, channelID string, embed Embed) {
	payload, err := json.Marshal(map[string]any{
		"embeds": []Embed{embed},
	})
	if err != nil {
		return
	}

	url := c.apiBase + "/channels/" + channelID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		zap.S().Warnw("channel notification failed", "channel", channelID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		zap.S().Warnw("channel notification rejected",
			"channel", channelID, "status", resp.StatusCode, "body", string(body))
	}
}
