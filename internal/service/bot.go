package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devitalik/devitalik/internal/adapter/discord"
	"github.com/devitalik/devitalik/internal/config"
	"github.com/devitalik/devitalik/internal/domain/query"
)

const helpText = "**DeVitalik commands**\n" +
	"`/help` - show this message\n" +
	"`/status` - watcher and index health\n" +
	"`/query <question>` - ask a question about the watched repositories\n" +
	"`/pattern <glob>` - list indexed files matching a glob"

// BotService runs the Discord command loop: it polls the command channel,
// parses slash-style commands, and replies in-channel.
type BotService struct {
	client *discord.Client
	query  *QueryService
	status *StatusService
	cfg    config.Discord

	selfID   string
	lastSeen string // snowflake of the newest handled message
}

// NewBotService creates a BotService.
func NewBotService(client *discord.Client, querySvc *QueryService, statusSvc *StatusService, cfg config.Discord) *BotService {
	return &BotService{
		client: client,
		query:  querySvc,
		status: statusSvc,
		cfg:    cfg,
	}
}

// Run polls the command channel until ctx is cancelled. Messages already
// in the channel at startup are skipped so restarts do not replay
// commands.
func (s *BotService) Run(ctx context.Context) error {
	if s.cfg.CommandChannel == "" {
		slog.Info("discord command channel not configured, bot loop disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	if me, err := s.client.Me(ctx); err == nil {
		s.selfID = me.ID
		slog.Info("discord bot connected", "username", me.Username)
	} else {
		slog.Warn("discord identity check failed", "error", err)
	}

	seeded := s.seedLastSeen(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !seeded {
				seeded = s.seedLastSeen(ctx)
				continue
			}
			s.poll(ctx)
		}
	}
}

// seedLastSeen establishes the baseline message ID and reports whether it
// is set. Commands are not handled before a baseline exists, otherwise a
// failed read at startup would replay old messages as commands.
func (s *BotService) seedLastSeen(ctx context.Context) bool {
	msgs, err := s.client.ReadMessages(ctx, s.cfg.CommandChannel, 1)
	if err != nil {
		slog.Warn("discord baseline read failed", "error", err)
		return false
	}
	if len(msgs) > 0 {
		s.lastSeen = msgs[0].ID
	}
	return true
}

// poll reads recent messages and handles any new commands, oldest first.
func (s *BotService) poll(ctx context.Context) {
	msgs, err := s.client.ReadMessages(ctx, s.cfg.CommandChannel, s.cfg.ReadCount)
	if err != nil {
		slog.Warn("discord read messages failed", "error", err)
		return
	}

	// Discord returns newest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if !snowflakeAfter(m.ID, s.lastSeen) {
			continue
		}
		s.lastSeen = m.ID

		if m.Author.Bot || m.Author.ID == s.selfID {
			continue
		}
		cmd, args, ok := parseCommand(m.Content)
		if !ok {
			continue
		}

		reply := s.dispatch(ctx, cmd, args)
		if reply == "" {
			continue
		}
		if _, err := s.client.ReplyToMessage(ctx, m.ChannelID, m.ID, reply); err != nil {
			slog.Warn("discord reply failed", "command", cmd, "error", err)
		}
	}
}

// dispatch executes one command and returns the reply text.
func (s *BotService) dispatch(ctx context.Context, cmd, args string) string {
	switch cmd {
	case "help":
		return helpText

	case "status":
		st := s.status.Snapshot(ctx)
		queueState := "disconnected"
		if st.QueueConnected {
			queueState = "connected"
		}
		reply := fmt.Sprintf(
			"**Status**\nuptime: %s\nrepositories: %d watched of %d\ndocuments: %d indexed, %d pending\nchanges (24h): %d\nqueue: %s",
			st.Uptime, st.WatchedCount, st.RepositoryCount,
			st.DocumentsIndexed, st.DocumentsPending, st.ChangesLastDay, queueState)
		if !st.LastPoll.IsZero() {
			reply += "\nlast poll: " + st.LastPoll.UTC().Format(time.RFC3339)
		}
		return reply

	case "query":
		if args == "" {
			return "Usage: `/query <question>`"
		}
		ans, err := s.query.Answer(ctx, &query.Request{Question: args})
		if err != nil {
			slog.Error("query command failed", "error", err)
			return "Something went wrong answering that, try again."
		}
		return formatAnswer(ans)

	case "pattern":
		if args == "" {
			return "Usage: `/pattern <glob>`"
		}
		paths, err := s.query.MatchPaths(ctx, args)
		if err != nil {
			slog.Error("pattern command failed", "error", err)
			return "Something went wrong matching that pattern."
		}
		if len(paths) == 0 {
			return fmt.Sprintf("No indexed files match `%s`.", args)
		}
		return formatPaths(args, paths)

	default:
		return fmt.Sprintf("Unknown command `%s`, try `/help`.", cmd)
	}
}

// parseCommand splits "/query how does x work" into ("query", "how does
// x work"). Both "/" and "!" prefixes are accepted.
func parseCommand(content string) (cmd, args string, ok bool) {
	content = strings.TrimSpace(content)
	if len(content) < 2 || (content[0] != '/' && content[0] != '!') {
		return "", "", false
	}
	rest := content[1:]
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		return strings.ToLower(rest[:i]), strings.TrimSpace(rest[i+1:]), true
	}
	return strings.ToLower(rest), "", true
}

// formatAnswer renders an answer for Discord, truncated to the message
// size limit.
func formatAnswer(ans *query.Answer) string {
	const discordLimit = 2000

	var b strings.Builder
	b.WriteString(ans.Text)
	if len(ans.Hits) > 0 {
		b.WriteString("\n\n*Sources:*")
		for i, h := range ans.Hits {
			if i >= 3 {
				break
			}
			b.WriteString("\n- `")
			if h.Repository != "" {
				b.WriteString(h.Repository)
				b.WriteString(":")
			}
			b.WriteString(h.Path)
			b.WriteString("`")
		}
	}

	const ellipsis = "…"
	out := b.String()
	if len(out) > discordLimit {
		out = strings.ToValidUTF8(out[:discordLimit-len(ellipsis)], "") + ellipsis
	}
	return out
}

func formatPaths(pattern string, paths []string) string {
	const maxListed = 20

	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) match `%s`:", len(paths), pattern)
	for i, p := range paths {
		if i >= maxListed {
			fmt.Fprintf(&b, "\n… and %d more", len(paths)-maxListed)
			break
		}
		b.WriteString("\n- `")
		b.WriteString(p)
		b.WriteString("`")
	}
	return b.String()
}

// snowflakeAfter reports whether Discord snowflake a is newer than b.
// Snowflakes are decimal-encoded and time-ordered, so longer strings are
// always newer and equal-length strings compare lexically.
func snowflakeAfter(a, b string) bool {
	if b == "" {
		return true
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
