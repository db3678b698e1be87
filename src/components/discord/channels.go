package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/stake-plus/nombot/src/types"
)

// ChannelConfig locates the guild surfaces the bot manages.
type ChannelConfig struct {
	CategoryID        string // parent for discussion/vote channels
	ArchiveCategoryID string // archived channels move here; empty = rename only
}

// ChannelManager creates and tears down nomination channels. Implements
// lifecycle.ChannelManager.
type ChannelManager struct {
	session *discordgo.Session
	cfg     ChannelConfig
}

func NewChannelManager(session *discordgo.Session, cfg ChannelConfig) *ChannelManager {
	return &ChannelManager{session: session, cfg: cfg}
}

func (m *ChannelManager) CreateDiscussionChannel(ctx context.Context, n *types.Nominee) (string, error) {
	return m.create(ctx, n, fmt.Sprintf("discuss-%s", slug(n.Name)))
}

func (m *ChannelManager) CreateVoteChannel(ctx context.Context, n *types.Nominee) (string, error) {
	return m.create(ctx, n, fmt.Sprintf("vote-%s", slug(n.Name)))
}

func (m *ChannelManager) create(ctx context.Context, n *types.Nominee, name string) (string, error) {
	ch, err := m.session.GuildChannelCreateComplex(n.GuildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    fmt.Sprintf("Nomination: %s", n.Name),
		ParentID: m.cfg.CategoryID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create channel %s: %w", name, err)
	}
	return ch.ID, nil
}

// Archive locks a channel away without destroying its history: moved
// under the archive category when one is configured, renamed otherwise.
func (m *ChannelManager) Archive(ctx context.Context, channelID, reason string) error {
	ch, err := m.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("archive %s: %w", channelID, err)
	}

	edit := &discordgo.ChannelEdit{}
	if m.cfg.ArchiveCategoryID != "" {
		edit.ParentID = m.cfg.ArchiveCategoryID
	} else if !strings.HasPrefix(ch.Name, "archived-") {
		edit.Name = "archived-" + ch.Name
	}
	if _, err := m.session.ChannelEditComplex(channelID, edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("archive %s (%s): %w", channelID, reason, err)
	}
	return nil
}

func (m *ChannelManager) Delete(ctx context.Context, channelID, reason string) error {
	if _, err := m.session.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete channel %s (%s): %w", channelID, reason, err)
	}
	return nil
}

// slug keeps channel names inside Discord's charset.
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "nominee"
	}
	if len(out) > 90 {
		out = out[:90]
	}
	return out
}
