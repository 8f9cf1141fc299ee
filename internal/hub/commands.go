package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/council"
	"github.com/fyrsmithlabs/councild/internal/eventbus"
	"github.com/fyrsmithlabs/councild/internal/field"
	"github.com/fyrsmithlabs/councild/internal/logging"
	"github.com/fyrsmithlabs/councild/internal/transport"
)

const (
	councilColor   = "#9400D3"
	synthesisColor = "#FFD700"
	activityDelta  = 1.0
)

// HandleMessage processes one inbound chat message: activity, channel
// behaviours and commands. Bot messages are ignored.
func (h *Hub) HandleMessage(ctx context.Context, in transport.Inbound) {
	if in.Bot {
		return
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = h.clock.Now()
	}
	ctx = logging.WithChannelID(ctx, in.ChannelID)

	h.bus.Publish(ctx, eventbus.ActivityRecorded{
		Source:    "chat",
		AuthorID:  in.AuthorID,
		ChannelID: in.ChannelID,
		Delta:     activityDelta,
		At:        in.Timestamp,
	})

	text := strings.TrimSpace(in.Text)
	if strings.HasPrefix(text, "!") {
		h.command(ctx, in, text)
		return
	}

	if in.ChannelName == h.petitions {
		if text != "" {
			h.petition(ctx, in, text)
		}
		return
	}
	h.participate(ctx, in, text)
}

func (h *Hub) command(ctx context.Context, in transport.Inbound, text string) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	logger := h.logger.With(logging.ContextFields(ctx)...).With(zap.String("command", name))
	logger.Debug("command received")

	switch name {
	case "!oracle":
		h.oracle(ctx, in, arg)
	case "!council":
		h.councilCommand(ctx, in, arg)
	case "!join":
		h.join(ctx, in)
	case "!ceremony":
		h.ceremonyCommand(ctx, in, arg)
	case "!field":
		h.fieldCommand(ctx, in)
	case "!wisdom":
		h.wisdom(ctx, in)
	default:
		logger.Debug("unknown command")
	}
}

func (h *Hub) oracle(ctx context.Context, in transport.Inbound, question string) {
	if question == "" {
		h.reply(ctx, in, transport.Message{Text: "Ask the oracle a question: `!oracle <question>`"})
		return
	}
	res := h.council.QuickQuery(ctx, question)
	h.reply(ctx, in, transport.Message{
		Author: res.AgentName,
		Text:   FormatOracle(res),
		Color:  res.Color,
		Footer: "Harmony of " + res.Harmony,
	})
}

// FormatOracle renders a quick query result.
func FormatOracle(res council.QuickResult) string {
	return fmt.Sprintf("**%s** (%s): %s", res.AgentName, res.Harmony, res.Text)
}

func (h *Hub) councilCommand(ctx context.Context, in transport.Inbound, topic string) {
	if topic == "" {
		h.reply(ctx, in, transport.Message{Text: "Name a topic for the council: `!council <topic>`"})
		return
	}
	h.reply(ctx, in, transport.Message{
		Title:  "Sacred Council Convening",
		Text:   fmt.Sprintf("The council is gathering to deliberate on:\n\n**%s**", topic),
		Color:  councilColor,
		Footer: "Each agent will share their perspective...",
	})
	h.deliberate(in.Channel(), topic)
}

func (h *Hub) petition(ctx context.Context, in transport.Inbound, text string) {
	ch, err := h.transport.ResolveChannel(ctx, h.deliberation)
	if err != nil {
		h.logger.Warn("deliberation channel unavailable", zap.String("channel", h.deliberation), zap.Error(err))
		return
	}
	author := in.AuthorName
	if author == "" {
		author = in.AuthorID
	}
	h.logger.Info("petition received",
		zap.String("author_id", in.AuthorID),
		logging.MemberText("petition", text),
	)
	h.send(ctx, ch, transport.Message{
		Title: "Sacred Council Convening",
		Text:  fmt.Sprintf("Petition from %s:\n\n%s", author, text),
		Color: councilColor,
	})
	h.deliberate(ch, text)
}

// deliberate runs a council session in the background, posting each
// perspective and then the synthesis to ch.
func (h *Hub) deliberate(ch transport.Channel, topic string) {
	started := h.spawn(func(ctx context.Context) {
		_, syn := h.council.DeliberateWith(ctx, topic, func(p council.Perspective) {
			h.send(ctx, ch, transport.Message{
				Author: p.AgentName,
				Text:   p.Text,
				Color:  p.Color,
				Footer: "Harmony Lens: " + p.Harmony,
			})
		})
		h.send(context.WithoutCancel(ctx), ch, SynthesisMessage(syn))
	})
	if !started {
		h.logger.Warn("deliberation not started, hub is not running", logging.MemberText("topic", topic))
	}
}

// SynthesisMessage renders a deliberation outcome.
func SynthesisMessage(syn council.Synthesis) transport.Message {
	text := syn.Text
	if text == "" {
		text = "The council sat in silence; no perspectives were offered."
	}
	return transport.Message{
		Title:  "Collective Wisdom Emerged",
		Text:   text,
		Color:  synthesisColor,
		Footer: fmt.Sprintf("Coherence %.0f%% | %d voices | %s", syn.CoherenceScore, len(syn.AgentIDs), syn.Duration.Round(time.Second)),
	}
}

// participate records a message in a ceremony channel as participation.
func (h *Hub) participate(ctx context.Context, in transport.Inbound, text string) {
	def, ok := h.ceremonies.DefinitionForChannel(in.ChannelName)
	if !ok {
		return
	}
	for _, inst := range h.ceremonies.ActiveInChannel(in.ChannelName) {
		h.ceremonies.RecordContribution(inst.ID, in.AuthorID, text)
	}
	h.reply(ctx, in, transport.Message{Text: ParticipationText(def.Name)})
}

// ParticipationText is the reply to a message in a ceremony channel.
func ParticipationText(ceremonyName string) string {
	return fmt.Sprintf("Thank you for your presence in the %s. Your energy contributes to our collective field.", ceremonyName)
}

// join records the author in the channel's active ceremonies, or in every
// active ceremony when the channel hosts none.
func (h *Hub) join(ctx context.Context, in transport.Inbound) {
	targets := h.ceremonies.ActiveInChannel(in.ChannelName)
	if len(targets) == 0 {
		targets = h.ceremonies.ActiveInstances()
	}
	if len(targets) == 0 {
		h.reply(ctx, in, transport.Message{Text: "No ceremony is in progress right now. Try `!ceremony next`."})
		return
	}

	names := make([]string, 0, len(targets))
	for _, inst := range targets {
		h.ceremonies.RecordParticipant(inst.ID, in.AuthorID)
		names = append(names, inst.Name)
	}
	h.reply(ctx, in, transport.Message{Text: "You have joined " + strings.Join(names, ", ") + "."})
}

func (h *Hub) ceremonyCommand(ctx context.Context, in transport.Inbound, arg string) {
	sub, rest, _ := strings.Cut(arg, " ")
	rest = strings.TrimSpace(rest)

	switch sub {
	case "schedule":
		h.reply(ctx, in, transport.Message{Title: "Ceremony Schedule", Text: h.scheduleText()})
	case "next":
		h.reply(ctx, in, transport.Message{Text: h.nextText()})
	case "start":
		h.startCeremony(ctx, in, rest)
	default:
		h.reply(ctx, in, transport.Message{Text: "Usage: `!ceremony schedule`, `!ceremony next`, `!ceremony start <id>`"})
	}
}

type scheduledCeremony struct {
	def  ceremony.Definition
	next time.Time
}

func (h *Hub) upcoming() []scheduledCeremony {
	var out []scheduledCeremony
	for _, def := range h.ceremonies.Definitions() {
		next, ok := h.scheduler.Next(def.ID)
		if !ok {
			continue
		}
		out = append(out, scheduledCeremony{def: def, next: next})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].next.Before(out[j].next) })
	return out
}

func (h *Hub) scheduleText() string {
	list := h.upcoming()
	if len(list) == 0 {
		return "No ceremonies are scheduled."
	}
	var b strings.Builder
	for i, u := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "**%s** (`%s`): %s, %d min", u.def.Name, u.def.ID, u.next.Format(time.RFC1123), int(u.def.Duration.Minutes()))
	}
	return b.String()
}

func (h *Hub) nextText() string {
	list := h.upcoming()
	if len(list) == 0 {
		return "No ceremonies are scheduled."
	}
	u := list[0]
	in := u.next.Sub(h.clock.Now()).Round(time.Minute)
	return fmt.Sprintf("Next ceremony: **%s** at %s (in %s)", u.def.Name, u.next.Format(time.RFC1123), in)
}

func (h *Hub) startCeremony(ctx context.Context, in transport.Inbound, id string) {
	if id == "" {
		h.reply(ctx, in, transport.Message{Text: "Name the ceremony to start: `!ceremony start <id>`"})
		return
	}
	_, err := h.ceremonies.Start(ctx, id)
	if err == nil {
		def, _ := h.ceremonies.Definition(id)
		h.reply(ctx, in, transport.Message{Text: fmt.Sprintf("%s is beginning in #%s.", def.Name, def.Channel)})
		return
	}

	h.logger.Info("manual ceremony start rejected", zap.String("definition_id", id), zap.Error(err))
	h.reply(ctx, in, transport.Message{Text: StartErrorText(id, err)})
}

// StartErrorText explains why a ceremony could not start.
func StartErrorText(id string, err error) string {
	switch {
	case errors.Is(err, ceremony.ErrUnknownDefinition):
		return fmt.Sprintf("There is no ceremony called `%s`.", id)
	case errors.Is(err, ceremony.ErrOverlapRejected):
		return fmt.Sprintf("`%s` is already in progress.", id)
	case errors.Is(err, ceremony.ErrTransportUnavailable):
		return fmt.Sprintf("The channel for `%s` is unavailable.", id)
	case errors.Is(err, ceremony.ErrShutdown):
		return "The hub is closing; no new ceremonies can begin."
	default:
		return fmt.Sprintf("`%s` could not start.", id)
	}
}

func (h *Hub) fieldCommand(ctx context.Context, in transport.Inbound) {
	h.reply(ctx, in, transport.Message{Text: FieldText(h.field.State())})
}

// FieldText renders the field state.
func FieldText(s field.State) string {
	return fmt.Sprintf("%s (%s)", field.PresenceFor(s).Text, s.Trend)
}

func (h *Hub) wisdom(ctx context.Context, in transport.Inbound) {
	text := archive.EmptyText
	if h.archive != nil {
		if e, ok := h.archive.Random(); ok {
			text = archive.Format(e)
		}
	}
	h.reply(ctx, in, transport.Message{Text: text})
}
