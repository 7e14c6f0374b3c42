// Package bot implements the chat command surface. Handler is transport
// independent; Discord adapts it to a Discord guild.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ernie/mcauth/internal/domain"
	"github.com/ernie/mcauth/internal/linking"
	log "github.com/sirupsen/logrus"
)

// User is a chat platform user
type User struct {
	ID   string
	Name string
}

// Message is an incoming chat message
type Message struct {
	Author   User
	IsBot    bool
	InGuild  bool
	Content  string
	Mentions []User
}

// RoleNamer turns role ids into display names for the status report
type RoleNamer interface {
	RoleName(ctx context.Context, roleID string) (string, error)
}

const (
	replyInternal    = "Something went wrong."
	replyNoPerms     = "You don't have permissions to use this command"
	replyNotLinked   = "You're not linked with any account."
	replyJoinForCode = "Please join the Minecraft server to get your authentication code."
)

// Handler parses commands and runs them against the engine
type Handler struct {
	engine *linking.Engine
	prefix string
	roles  RoleNamer
}

// NewHandler creates a command handler. roles may be nil, in which case
// the status report shows role ids.
func NewHandler(engine *linking.Engine, prefix string, roles RoleNamer) *Handler {
	return &Handler{engine: engine, prefix: prefix, roles: roles}
}

// Handle runs one message. ok is false when the message is not for us
// and nothing should be sent back.
func (h *Handler) Handle(ctx context.Context, msg Message) (reply string, ok bool) {
	if msg.IsBot || !msg.InGuild || strings.TrimSpace(msg.Content) == "" {
		return "", false
	}
	args := strings.Fields(msg.Content)
	if args[0] != h.prefix {
		return "", false
	}

	command := "help"
	if len(args) > 1 {
		command = strings.ToLower(args[1])
	}
	logger := log.WithFields(log.Fields{
		"chat_id": msg.Author.ID,
		"command": command,
	})
	logger.Debug("Chat command")

	access, err := h.engine.ChatAccess(ctx, msg.Author.ID)
	if err != nil {
		logger.WithError(err).Error("Checking chat access")
		return replyInternal, true
	}
	switch access {
	case linking.AccessBanned:
		return "You're banned from using this bot.", true
	case linking.AccessMaintenance:
		return "Bot is in maintenance mode.", true
	case linking.AccessNoRole:
		return "You don't have the required roles to run this bot.", true
	}

	var cmdErr error
	switch command {
	case "link":
		reply, cmdErr = h.link(ctx, msg, args)
	case "unlink":
		if len(args) > 2 {
			reply, cmdErr = h.adminUnlink(ctx, msg, args)
		} else {
			reply, cmdErr = h.unlink(ctx, msg)
		}
	case "whoami":
		reply, cmdErr = h.whoami(ctx, msg)
	case "auth":
		reply, cmdErr = h.auth(ctx, msg, args)
	case "admin":
		reply, cmdErr = h.adminHelp(ctx, msg)
	case "ban":
		reply, cmdErr = h.ban(ctx, msg)
	case "pardon":
		reply, cmdErr = h.pardon(ctx, msg)
	case "maintenance":
		reply, cmdErr = h.maintenance(ctx, msg)
	case "status":
		reply, cmdErr = h.status(ctx, msg)
	case "whois":
		reply, cmdErr = h.whois(ctx, msg)
	default:
		reply = h.help()
	}
	if cmdErr != nil {
		logger.WithError(cmdErr).Error("Chat command failed")
		return replyInternal, true
	}
	return reply, true
}

func (h *Handler) help() string {
	p := h.prefix
	return "Available Commands:\n" +
		fmt.Sprintf(" - %s link <Minecraft player name> To associate your Discord account with your provided Minecraft account\n", p) +
		fmt.Sprintf(" - %s auth <auth code> Finish linking with the code shown in-game\n", p) +
		fmt.Sprintf(" - %s unlink\n", p) +
		fmt.Sprintf(" - %s help Display this help dialogue\n", p) +
		fmt.Sprintf(" - %s whoami For debugging purposes\n", p) +
		fmt.Sprintf(" - %s admin Display admin commands", p)
}

// conflictReply phrases a link conflict from the requester's point of view
func conflictReply(ce *domain.ConflictError) string {
	switch ce.Side {
	case domain.SideBoth:
		return "Your Discord account is already linked with the provided Minecraft account"
	case domain.SideChat:
		if ce.GameTaken {
			return "Your Discord account and the provided Minecraft account are both linked with other accounts."
		}
		return "Your Discord account is already linked with another Minecraft account"
	default:
		return "The provided Minecraft account is already linked with another Discord account."
	}
}

func (h *Handler) link(ctx context.Context, msg Message, args []string) (string, error) {
	if len(args) < 3 {
		return fmt.Sprintf("Please provide a Minecraft player name ie `%s link dylan`", h.prefix), nil
	}
	name := args[2]

	_, err := h.engine.RequestLink(ctx, msg.Author.ID, name)
	if ce, ok := domain.AsConflict(err); ok {
		return conflictReply(ce), nil
	}
	switch {
	case errors.Is(err, domain.ErrUnknownPlayer):
		return fmt.Sprintf("%q is an invalid player name.", name), nil
	case err != nil:
		return "", err
	}
	return fmt.Sprintf("%s (Like so: `%s auth <auth code>`)", replyJoinForCode, h.prefix), nil
}

func (h *Handler) auth(ctx context.Context, msg Message, args []string) (string, error) {
	if len(args) < 3 {
		return "Please provide an authentication code", nil
	}

	_, err := h.engine.RedeemCode(ctx, msg.Author.ID, args[2])
	if ce, ok := domain.AsConflict(err); ok {
		return conflictReply(ce), nil
	}
	switch {
	case errors.Is(err, domain.ErrInvalidCode):
		return "Invalid authentication code", nil
	case err != nil:
		return "", err
	}
	return "Linked.", nil
}

func (h *Handler) unlink(ctx context.Context, msg Message) (string, error) {
	removed, err := h.engine.UnlinkChat(ctx, msg.Author.ID)
	if err != nil {
		return "", err
	}
	if !removed {
		return replyNotLinked, nil
	}
	return "Unlinked.", nil
}

func (h *Handler) whoami(ctx context.Context, msg Message) (string, error) {
	p, err := h.engine.Whois(ctx, msg.Author.ID)
	if err != nil {
		return "", err
	}
	if p.GameID == "" {
		if p.Pending != nil {
			return replyNotLinked + " " + replyJoinForCode, nil
		}
		return replyNotLinked, nil
	}
	return "Your details: ```json\n" +
		"{\n" +
		fmt.Sprintf("  \"uuid\": %q,\n", p.GameID) +
		fmt.Sprintf("  \"name\": %q\n", p.PlayerName) +
		"}\n" +
		"```", nil
}

// --- Admin commands ---

func (h *Handler) requireAdmin(ctx context.Context, msg Message) (bool, error) {
	return h.engine.IsAdmin(ctx, msg.Author.ID)
}

func (h *Handler) adminHelp(ctx context.Context, msg Message) (string, error) {
	admin, err := h.requireAdmin(ctx, msg)
	if err != nil || !admin {
		return "You're not an admin.", err
	}
	p := h.prefix
	return "Admin Commands:\n" +
		fmt.Sprintf(" - %s unlink <Minecraft player name or @discord member>\n", p) +
		fmt.Sprintf(" - %s maintenance Toggles \"maintenance mode\"\n", p) +
		fmt.Sprintf(" - %s ban <@discord member> Ban bot usage\n", p) +
		fmt.Sprintf(" - %s pardon <@discord member>\n", p) +
		fmt.Sprintf(" - %s status Display debug info\n", p) +
		fmt.Sprintf(" - %s whois <@discord member> Displays debug info of someone else", p), nil
}

func (h *Handler) adminUnlink(ctx context.Context, msg Message, args []string) (string, error) {
	admin, err := h.requireAdmin(ctx, msg)
	if err != nil || !admin {
		return replyNoPerms, err
	}

	if len(msg.Mentions) > 0 {
		target := msg.Mentions[0]
		removed, err := h.engine.UnlinkChat(ctx, target.ID)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("%s isn't linked with any account.", target.Name), nil
		}
		return fmt.Sprintf("Unlinked %s's claimed Minecraft account", target.Name), nil
	}

	name := args[2]
	_, removed, err := h.engine.UnlinkPlayer(ctx, name)
	switch {
	case errors.Is(err, domain.ErrUnknownPlayer):
		return "Please provide a valid Discord user or Minecraft player", nil
	case err != nil:
		return "", err
	case !removed:
		return fmt.Sprintf("%q isn't linked with any account.", name), nil
	}
	return fmt.Sprintf("Unlinked %q", name), nil
}

func (h *Handler) ban(ctx context.Context, msg Message) (string, error) {
	admin, err := h.requireAdmin(ctx, msg)
	if err != nil || !admin {
		return replyNoPerms, err
	}
	if len(msg.Mentions) == 0 {
		return "Mention the member you would like to ban from using this bot.", nil
	}

	target := msg.Mentions[0]
	added, err := h.engine.Ban(ctx, target.ID)
	if err != nil {
		return "", err
	}
	if !added {
		return "This member is already banned.", nil
	}
	return fmt.Sprintf("Banned %q", target.Name), nil
}

func (h *Handler) pardon(ctx context.Context, msg Message) (string, error) {
	admin, err := h.requireAdmin(ctx, msg)
	if err != nil || !admin {
		return replyNoPerms, err
	}
	if len(msg.Mentions) == 0 {
		return "Mention the member you would like to pardon.", nil
	}

	target := msg.Mentions[0]
	removed, err := h.engine.Pardon(ctx, target.ID)
	if err != nil {
		return "", err
	}
	if !removed {
		return "This member is not banned.", nil
	}
	return fmt.Sprintf("Pardoned %q", target.Name), nil
}

func (h *Handler) maintenance(ctx context.Context, msg Message) (string, error) {
	admin, err := h.requireAdmin(ctx, msg)
	if err != nil || !admin {
		return replyNoPerms, err
	}
	if h.engine.ToggleMaintenance() {
		return "Maintenance mode is now on.", nil
	}
	return "Maintenance mode is now off.", nil
}

func (h *Handler) status(ctx context.Context, msg Message) (string, error) {
	admin, err := h.requireAdmin(ctx, msg)
	if err != nil || !admin {
		return replyNoPerms, err
	}

	st, err := h.engine.Status(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("**Bot Status Report**\n")
	if st.Maintenance {
		b.WriteString("**Maintenance Mode is On**\n")
	}
	fmt.Fprintf(&b, "**Linked Accounts** %d\n", st.Counts.Links)
	fmt.Fprintf(&b, "**Pending Codes** %d\n", st.Counts.Pending)
	fmt.Fprintf(&b, "**Alt Accounts** %d\n", st.Counts.Alts)
	fmt.Fprintf(&b, "**Banned Members** %d\n", st.Counts.Bans)
	b.WriteString("\n**Admin Roles**\n")
	h.writeRoles(ctx, &b, st.AdminRoles)
	b.WriteString("\n**Whitelist Roles**\n")
	h.writeRoles(ctx, &b, st.WhitelistRoles)
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) writeRoles(ctx context.Context, b *strings.Builder, ids []string) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name := id
		if h.roles != nil {
			if n, err := h.roles.RoleName(ctx, id); err == nil && n != "" {
				name = n
			} else if err != nil {
				log.WithError(err).WithField("role_id", id).Debug("Resolving role name")
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, " - %s\n", name)
	}
}

func (h *Handler) whois(ctx context.Context, msg Message) (string, error) {
	admin, err := h.requireAdmin(ctx, msg)
	if err != nil || !admin {
		return replyNoPerms, err
	}
	if len(msg.Mentions) == 0 {
		return "Please mention somebody", nil
	}

	target := msg.Mentions[0]
	p, err := h.engine.Whois(ctx, target.ID)
	if err != nil {
		return "", err
	}
	if p.GameID == "" && p.Pending == nil && !p.Banned {
		return "That account isn't linked with anything.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", target.Name)
	fmt.Fprintf(&b, " - Discord ID: %s\n", p.ChatID)
	if p.GameID != "" {
		fmt.Fprintf(&b, " - Minecraft UUID: %s\n", p.GameID)
		if p.PlayerName != "" {
			fmt.Fprintf(&b, " - Minecraft Name: %s\n", p.PlayerName)
		}
	} else {
		b.WriteString(" - Not linked\n")
	}
	if p.Pending != nil {
		fmt.Fprintf(&b, " - Pending Link: %s\n", p.Pending.GameID)
	}
	fmt.Fprintf(&b, " - Banned: %t", p.Banned)
	return b.String(), nil
}
