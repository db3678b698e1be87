package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// MemberCounter counts guild members holding the voter role, the
// eligible electorate for quorum math. Implements
// lifecycle.MemberSource.
type MemberCounter struct {
	session     *discordgo.Session
	voterRoleID string // empty counts the whole guild
}

func NewMemberCounter(session *discordgo.Session, voterRoleID string) *MemberCounter {
	return &MemberCounter{session: session, voterRoleID: voterRoleID}
}

func (c *MemberCounter) EligibleMemberCount(ctx context.Context, guildID string) (int, error) {
	if c.voterRoleID == "" {
		guild, err := c.session.Guild(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return 0, fmt.Errorf("get guild %s: %w", guildID, err)
		}
		return guild.MemberCount, nil
	}

	count := 0
	after := ""
	for {
		members, err := c.session.GuildMembers(guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return 0, fmt.Errorf("list members for guild %s: %w", guildID, err)
		}
		for _, m := range members {
			for _, roleID := range m.Roles {
				if roleID == c.voterRoleID {
					count++
					break
				}
			}
		}
		if len(members) < 1000 {
			return count, nil
		}
		after = members[len(members)-1].User.ID
	}
}
