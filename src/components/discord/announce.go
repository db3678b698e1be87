package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stake-plus/nombot/src/components/tally"
	"github.com/stake-plus/nombot/src/types"
)

const (
	colorDiscussion = 0x0099ff
	colorVote       = 0xffaa00
	colorPassed     = 0x00ff00
	colorFailed     = 0xff0000
)

// Notifier posts stage announcements to the configured announce
// channel. Implements lifecycle.Notifier.
type Notifier struct {
	session           *discordgo.Session
	announceChannelID string
}

func NewNotifier(session *discordgo.Session, announceChannelID string) *Notifier {
	return &Notifier{session: session, announceChannelID: announceChannelID}
}

func (n *Notifier) AnnounceDiscussionStart(ctx context.Context, nom *types.Nominee, channelID string) (string, error) {
	embed := &discordgo.MessageEmbed{
		Title:       "Discussion Open",
		Description: fmt.Sprintf("Discussion for the nomination of **%s** has started.", nom.Name),
		Color:       colorDiscussion,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	if channelID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Join In",
			Value: fmt.Sprintf("<#%s>", channelID),
		})
	}
	if nom.VoteStart != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Vote Starts",
			Value: fmt.Sprintf("<t:%d:F>", nom.VoteStart.Unix()),
		})
	}
	return n.send(ctx, embed)
}

func (n *Notifier) AnnounceVoteStart(ctx context.Context, nom *types.Nominee, channelID string) (string, error) {
	embed := &discordgo.MessageEmbed{
		Title:       "Vote Open",
		Description: fmt.Sprintf("Voting on the nomination of **%s** has started.", nom.Name),
		Color:       colorVote,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	if channelID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Cast Your Vote",
			Value: fmt.Sprintf("<#%s>", channelID),
		})
	}
	if nom.CleanupStart != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Vote Ends",
			Value: fmt.Sprintf("<t:%d:F>", nom.CleanupStart.Unix()),
		})
	}
	return n.send(ctx, embed)
}

func (n *Notifier) AnnounceResults(ctx context.Context, nom *types.Nominee, verdict tally.Verdict) (string, error) {
	outcome := "did not pass"
	color := colorFailed
	if verdict.Passed {
		outcome = "passed"
		color = colorPassed
	}
	quorum := "not met"
	if verdict.QuorumMet {
		quorum = "met"
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Vote Results",
		Description: fmt.Sprintf("The nomination of **%s** %s.", nom.Name, outcome),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Yes", Value: fmt.Sprintf("%d", verdict.Yes), Inline: true},
			{Name: "No", Value: fmt.Sprintf("%d", verdict.No), Inline: true},
			{Name: "Quorum", Value: fmt.Sprintf("%s (%d required)", quorum, verdict.RequiredQuorum), Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
	return n.send(ctx, embed)
}

// DeleteMessages removes stale bot announcements; missing messages are
// logged by the caller and otherwise ignored.
func (n *Notifier) DeleteMessages(ctx context.Context, refs types.MessageRefs) error {
	var firstErr error
	for _, id := range refs {
		if err := n.session.ChannelMessageDelete(n.announceChannelID, id, discordgo.WithContext(ctx)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *Notifier) send(ctx context.Context, embed *discordgo.MessageEmbed) (string, error) {
	msg, err := n.session.ChannelMessageSendEmbed(n.announceChannelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}
