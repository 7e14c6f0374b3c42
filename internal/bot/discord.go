package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/ernie/mcauth/internal/domain"
	log "github.com/sirupsen/logrus"
)

// commandTimeout bounds the work done for one chat message
const commandTimeout = 15 * time.Second

// Discord connects a Handler to one Discord guild and answers role
// lookups for the decision engine
type Discord struct {
	session *discordgo.Session
	guildID string
}

// NewDiscord creates a Discord session. Nothing is sent until Start.
func NewDiscord(token, guildID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent
	session.State.TrackMembers = true
	session.State.TrackRoles = true

	return &Discord{session: session, guildID: guildID}, nil
}

// MemberRoles implements linking.Directory
func (d *Discord) MemberRoles(ctx context.Context, chatID string) (domain.RoleSet, bool, error) {
	member, err := d.session.State.Member(d.guildID, chatID)
	if err != nil {
		member, err = d.session.GuildMember(d.guildID, chatID, discordgo.WithContext(ctx))
		if isNotFound(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("fetching guild member: %w", err)
		}
	}
	return domain.NewRoleSet(member.Roles...), true, nil
}

// RoleName implements RoleNamer
func (d *Discord) RoleName(ctx context.Context, roleID string) (string, error) {
	if role, err := d.session.State.Role(d.guildID, roleID); err == nil {
		return role.Name, nil
	}

	roles, err := d.session.GuildRoles(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetching guild roles: %w", err)
	}
	for _, role := range roles {
		if role.ID == roleID {
			return role.Name, nil
		}
	}
	return "", domain.ErrNotFound
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMember {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// Start registers handler for guild messages and opens the gateway
func (d *Discord) Start(handler *Handler) error {
	d.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		fields := log.Fields{"user": r.User.Username}
		if guild, err := s.State.Guild(d.guildID); err == nil {
			fields["guild"] = guild.Name
		}
		log.WithFields(fields).Info("Discord bot ready")
	})

	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.GuildID != d.guildID {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		reply, ok := handler.Handle(ctx, toMessage(m))
		if !ok {
			return
		}
		if _, err := s.ChannelMessageSendReply(m.ChannelID, reply, m.Reference(), discordgo.WithContext(ctx)); err != nil {
			log.WithError(err).WithField("channel_id", m.ChannelID).Warn("Sending Discord reply")
		}
	})

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway
func (d *Discord) Close() error {
	return d.session.Close()
}

func toMessage(m *discordgo.MessageCreate) Message {
	msg := Message{
		Author:  User{ID: m.Author.ID, Name: m.Author.Username},
		IsBot:   m.Author.Bot,
		InGuild: m.GuildID != "",
		Content: m.Content,
	}
	for _, u := range m.Mentions {
		msg.Mentions = append(msg.Mentions, User{ID: u.ID, Name: u.Username})
	}
	return msg
}
