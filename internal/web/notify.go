// internal/web/notify.go
//
// Channel notifications for panel events.
//
// Context
// -------
// Tenants with a configured channel get an embed whenever something
// notable happens to them: a log arrives, a user opens their
// dashboard after login, or an admin creates, edits, or deletes the
// tenant.  Posts run detached with a bounded timeout, so no handler
// ever waits on the identity provider.
package web

import (
	"context"
	"time"

	"github.com/guildlogs/panel/internal/directory"
)

// Event accent colors, matching the frontend's legend.
const (
	colorIngest = 0x5865F2
	colorLogin  = 0x8D12AB
	colorCreate = 0x00FF00
	colorEdit   = 0xFFA500
	colorDelete = 0xFF0000
)

// notifyChannel posts an embed to the tenant's configured channel,
// when it has one.
func (s *Server) notifyChannel(tenantID string, embed directory.Embed) {
	t, err := s.reg.Tenant(tenantID)
	if err != nil || !t.Identity.Enabled() || t.Identity.ChannelID == "" {
		return
	}
	s.notifyChannelID(t.Identity.ChannelID, embed)
}

// notifyChannelID fires the post itself.  Used directly when the
// tenant record is already in hand, or about to disappear.
func (s *Server) notifyChannelID(channelID string, embed directory.Embed) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.dir.Notify(ctx, channelID, embed)
	}()
}

// eventEmbed builds the actor/server/time shape shared by the login
// and admin events.
func eventEmbed(title string, color int, actor, actorID, serverName, serverID string) directory.Embed {
	return directory.Embed{
		Title:     title,
		Color:     color,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []directory.EmbedField{
			{Name: "User", Value: actor + " (" + actorID + ")", Inline: true},
			{Name: "Server", Value: serverName + " (" + serverID + ")", Inline: true},
		},
	}
}
