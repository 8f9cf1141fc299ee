package hub

import (
	"context"
	"math/rand"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/council"
	"github.com/fyrsmithlabs/councild/internal/eventbus"
	"github.com/fyrsmithlabs/councild/internal/field"
	"github.com/fyrsmithlabs/councild/internal/logging"
	"github.com/fyrsmithlabs/councild/internal/scheduler"
	"github.com/fyrsmithlabs/councild/internal/transport"
)

// Cron schedules resolve in the clock's location and the mock starts in
// time.Local, so pin it for deterministic ceremony times.
func TestMain(m *testing.M) {
	time.Local = time.UTC
	os.Exit(m.Run())
}

// mockAt returns a mock clock reading at. The mock only moves forward from
// the Unix epoch.
func mockAt(at time.Time) *clock.Mock {
	mock := clock.NewMock()
	mock.Add(at.Sub(mock.Now()))
	return mock
}

var monday = time.Date(2026, 3, 2, 5, 30, 0, 0, time.UTC)

type eventLog struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (l *eventLog) handle(_ context.Context, ev eventbus.Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func eventsOf[T eventbus.Event](l *eventLog) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []T
	for _, ev := range l.events {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

func definitions() []ceremony.Definition {
	return []ceremony.Definition{
		{
			ID: "dawn", Name: "Dawn Circle", Schedule: "0 6 * * *",
			Phases: []ceremony.Phase{
				{Name: "Arrival", Duration: 10 * time.Minute, Prompt: "Arrive.", Lead: "lumina"},
				{Name: "Blessing", Duration: 10 * time.Minute},
			},
		},
		{
			ID: "dusk", Name: "Dusk Circle", Schedule: "0 18 * * *",
			Phases: []ceremony.Phase{{Name: "Harvest", Duration: 30 * time.Minute}},
		},
		{
			ID: "open", Name: "Open Circle",
			Phases: []ceremony.Phase{{Name: "Only", Duration: time.Hour}},
		},
	}
}

func agents() []council.Agent {
	out := council.DefaultAgents()
	for i := range out {
		name := out[i].Name
		out[i].Provider = council.ProviderFunc(func(_ context.Context, _, user string) (string, error) {
			return name + " reflects on " + strings.SplitN(user, "\n", 2)[0], nil
		})
	}
	return out
}

type fixture struct {
	hub     *Hub
	bus     *eventbus.Bus
	mock    *clock.Mock
	venue   *transport.Memory
	orch    *ceremony.Orchestrator
	archive *archive.Archive
	log     *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	mock := mockAt(monday)

	bus, err := eventbus.New(logger)
	require.NoError(t, err)
	log := &eventLog{}
	_, err = bus.SubscribeAll(log.handle)
	require.NoError(t, err)

	venue := transport.NewMemory(transport.WithChannels(
		"general", DefaultPetitionsChannel, DefaultDeliberationsChannel,
		"ceremony-dawn", "ceremony-dusk", "ceremony-open",
	))

	coord, err := council.New(agents(), bus, logger,
		council.WithClock(mock),
		council.WithPacing(0),
		council.WithRand(rand.New(rand.NewSource(11))),
	)
	require.NoError(t, err)

	orch, err := ceremony.New(bus, venue, logger, ceremony.WithClock(mock), ceremony.WithGuide(coord))
	require.NoError(t, err)
	require.NoError(t, orch.Register(definitions()...))

	tracker, err := field.New(bus, logger, field.WithClock(mock))
	require.NoError(t, err)

	sched, err := scheduler.New(mock, logger)
	require.NoError(t, err)

	arch, err := archive.New(archive.Config{}, logger, archive.WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)

	h, err := New(Options{
		Bus:        bus,
		Transport:  venue,
		Ceremonies: orch,
		Council:    coord,
		Field:      tracker,
		Scheduler:  sched,
		Archive:    arch,
		Clock:      mock,
		Logger:     logger,
	})
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })

	return &fixture{hub: h, bus: bus, mock: mock, venue: venue, orch: orch, archive: arch, log: log}
}

func (f *fixture) say(channel, author, text string) transport.Inbound {
	in := transport.Inbound{
		ID:          author + "-" + text,
		AuthorID:    author,
		AuthorName:  author,
		ChannelID:   channel,
		ChannelName: channel,
		Text:        text,
	}
	f.hub.HandleMessage(context.Background(), in)
	return in
}

func (f *fixture) lastText(t *testing.T, channel string) string {
	t.Helper()
	sent := f.venue.Sent(channel)
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].Message.Text
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Logger: zap.NewNop()})
	assert.Error(t, err)
}

func TestStart_FailureReleasesSubscriptions(t *testing.T) {
	logger := zap.NewNop()
	mock := mockAt(monday)

	bus, err := eventbus.New(logger)
	require.NoError(t, err)
	venue := transport.NewMemory(transport.WithChannels("general", "ceremony-dawn", "ceremony-dusk", "ceremony-open"))
	coord, err := council.New(agents(), bus, logger, council.WithClock(mock), council.WithPacing(0))
	require.NoError(t, err)
	orch, err := ceremony.New(bus, venue, logger, ceremony.WithClock(mock))
	require.NoError(t, err)
	require.NoError(t, orch.Register(definitions()...))
	tracker, err := field.New(bus, logger, field.WithClock(mock))
	require.NoError(t, err)
	sched, err := scheduler.New(mock, logger)
	require.NoError(t, err)
	t.Cleanup(sched.StopAll)
	arch, err := archive.New(archive.Config{}, logger)
	require.NoError(t, err)

	// dusk is already taken, so Start fails after scheduling dawn.
	require.NoError(t, sched.Schedule("dusk", "0 18 * * *", func(context.Context, string) {}))

	h, err := New(Options{
		Bus: bus, Transport: venue, Ceremonies: orch, Council: coord,
		Field: tracker, Scheduler: sched, Archive: arch, Clock: mock, Logger: logger,
	})
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.ErrorIs(t, err, scheduler.ErrAlreadyScheduled)

	for _, topic := range eventbus.Topics() {
		assert.Zero(t, bus.HandlerCount(topic), "handlers left on %s", topic)
	}
	_, ok := sched.Next("dawn")
	assert.False(t, ok, "dawn unscheduled")

	bus.Publish(context.Background(), eventbus.ActivityRecorded{Delta: 1})
	assert.Equal(t, 75.0, tracker.State().Coherence)

	require.True(t, sched.Unschedule("dusk"))
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Shutdown(context.Background()))
}

func TestShutdown_NotStarted(t *testing.T) {
	f := newFixture(t)
	h, err := New(Options{
		Bus: f.bus, Transport: f.venue, Ceremonies: f.orch, Council: f.hub.council,
		Field: f.hub.field, Scheduler: f.hub.scheduler, Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, h.Shutdown(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, f.hub.Start(context.Background()), ErrAlreadyStarted)
}

func TestHandleMessage_LogsChannelAndCommand(t *testing.T) {
	f := newFixture(t)
	tl := logging.NewTestLogger()
	h, err := New(Options{
		Bus: f.bus, Transport: f.venue, Ceremonies: f.orch, Council: f.hub.council,
		Field: f.hub.field, Scheduler: f.hub.scheduler, Clock: f.mock, Logger: tl.Underlying(),
	})
	require.NoError(t, err)

	h.HandleMessage(context.Background(), transport.Inbound{
		AuthorID: "ana", ChannelID: "c-42", ChannelName: "general", Text: "!nonsense",
	})

	tl.AssertLogged(t, zapcore.DebugLevel, "unknown command")
	tl.AssertField(t, "command received", "channel.id", "c-42")
	tl.AssertField(t, "command received", "command", "!nonsense")
}

func TestPetition_LogsLengthNotText(t *testing.T) {
	f := newFixture(t)
	tl := logging.NewTestLogger()
	h, err := New(Options{
		Bus: f.bus, Transport: f.venue, Ceremonies: f.orch, Council: f.hub.council,
		Field: f.hub.field, Scheduler: f.hub.scheduler, Clock: f.mock, Logger: tl.Underlying(),
	})
	require.NoError(t, err)

	h.HandleMessage(context.Background(), transport.Inbound{
		AuthorID: "ana", ChannelName: DefaultPetitionsChannel, Text: "my sister is unwell",
	})

	tl.AssertField(t, "petition received", "petition", "[REDACTED:19]")
	tl.AssertField(t, "deliberation not started, hub is not running", "topic", "[REDACTED:19]")
	for _, e := range tl.All() {
		for _, v := range e.ContextMap() {
			assert.NotEqual(t, "my sister is unwell", v)
		}
	}
}

func TestHandleMessage_Activity(t *testing.T) {
	f := newFixture(t)

	f.say("general", "ana", "hello there")
	f.hub.HandleMessage(context.Background(), transport.Inbound{AuthorID: "bot", ChannelName: "general", Text: "!field", Bot: true})

	activity := eventsOf[eventbus.ActivityRecorded](f.log)
	require.Len(t, activity, 1)
	assert.Equal(t, "ana", activity[0].AuthorID)
	assert.Equal(t, 1.0, activity[0].Delta)
	assert.WithinDuration(t, monday, activity[0].At, 0)

	assert.Empty(t, f.venue.Sent("general"), "plain chat gets no reply")
	assert.Equal(t, 76.0, f.hub.field.State().Coherence)
}

func TestPresence(t *testing.T) {
	f := newFixture(t)

	text, online := f.venue.Presence()
	assert.Equal(t, "Field Coherence: 75.00%", text)
	assert.True(t, online)

	f.say("general", "ana", "hi")
	text, _ = f.venue.Presence()
	assert.Equal(t, "Field Coherence: 76.00%", text)
}

func TestInboundConsumer(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.venue.Deliver(context.Background(), transport.Inbound{
		ID: "m1", AuthorID: "ana", ChannelID: "general", ChannelName: "general", Text: "!field",
	}))

	require.Eventually(t, func() bool {
		return len(f.venue.Sent("general")) == 1
	}, time.Second, 5*time.Millisecond)

	sent := f.venue.Sent("general")[0]
	assert.Equal(t, "m1", sent.Message.ReplyTo)
	assert.Contains(t, sent.Message.Text, "Field Coherence: 76.00%")
}

func TestOracle(t *testing.T) {
	f := newFixture(t)

	in := f.say("general", "ana", "!oracle   what is needed?")
	sent := f.venue.Sent("general")
	require.Len(t, sent, 1)
	msg := sent[0].Message
	assert.Equal(t, in.ID, msg.ReplyTo)
	assert.True(t, strings.HasPrefix(msg.Text, "**"+msg.Author+"** ("))
	assert.True(t, strings.HasSuffix(msg.Text, "reflects on what is needed?"))
	assert.True(t, strings.HasPrefix(msg.Footer, "Harmony of "))

	f.say("general", "ana", "!oracle")
	assert.Contains(t, f.lastText(t, "general"), "!oracle <question>")
}

func TestCouncil_PostsPerspectivesAndSynthesis(t *testing.T) {
	f := newFixture(t)

	f.say("general", "ana", "!council how do we rest?")

	require.Eventually(t, func() bool {
		return len(eventsOf[eventbus.DeliberationCompleted](f.log)) == 1 && len(f.venue.Sent("general")) == 9
	}, 2*time.Second, 5*time.Millisecond)

	sent := f.venue.Sent("general")
	assert.Equal(t, "Sacred Council Convening", sent[0].Message.Title)
	for i, a := range council.DefaultAgents() {
		assert.Equal(t, a.Name, sent[i+1].Message.Author)
	}
	last := sent[8].Message
	assert.Equal(t, "Collective Wisdom Emerged", last.Title)
	assert.Contains(t, last.Footer, "7 voices")

	require.Eventually(t, func() bool { return f.archive.Len() == 1 }, time.Second, 5*time.Millisecond)
	f.say("general", "ana", "!wisdom")
	assert.True(t, strings.HasPrefix(f.lastText(t, "general"), "**how do we rest?**\n"))
}

func TestPetition(t *testing.T) {
	f := newFixture(t)

	f.say(DefaultPetitionsChannel, "ana", "Should we gather on Sundays?")

	require.Eventually(t, func() bool {
		return len(f.venue.Sent(DefaultDeliberationsChannel)) == 9
	}, 2*time.Second, 5*time.Millisecond)

	sent := f.venue.Sent(DefaultDeliberationsChannel)
	assert.Equal(t, "Petition from ana:\n\nShould we gather on Sundays?", sent[0].Message.Text)
	assert.Equal(t, "Collective Wisdom Emerged", sent[8].Message.Title)
	assert.Empty(t, f.venue.Sent(DefaultPetitionsChannel))
}

func TestWisdom_Empty(t *testing.T) {
	f := newFixture(t)
	f.say("general", "ana", "!wisdom")
	assert.Equal(t, archive.EmptyText, f.lastText(t, "general"))
}

func TestField(t *testing.T) {
	f := newFixture(t)
	f.say("general", "ana", "!field")
	assert.Equal(t, "Field Coherence: 76.00% (rising)", f.lastText(t, "general"))
}

func TestCeremonySchedule(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.mock.Now().Equal(monday))

	f.say("general", "ana", "!ceremony schedule")
	text := f.lastText(t, "general")
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2, "manual-only ceremonies are not listed")
	assert.Equal(t, "**Dawn Circle** (`dawn`): Mon, 02 Mar 2026 06:00:00 UTC, 20 min", lines[0])
	assert.Equal(t, "**Dusk Circle** (`dusk`): Mon, 02 Mar 2026 18:00:00 UTC, 30 min", lines[1])

	f.say("general", "ana", "!ceremony next")
	assert.Equal(t, "Next ceremony: **Dawn Circle** at Mon, 02 Mar 2026 06:00:00 UTC (in 30m0s)", f.lastText(t, "general"))

	f.say("general", "ana", "!ceremony dance")
	assert.Contains(t, f.lastText(t, "general"), "Usage:")
}

func TestCeremonyStart(t *testing.T) {
	f := newFixture(t)

	f.say("general", "ana", "!ceremony start open")
	assert.Equal(t, "Open Circle is beginning in #ceremony-open.", f.lastText(t, "general"))
	require.Len(t, f.orch.ActiveInstances(), 1)

	f.say("general", "ana", "!ceremony start open")
	assert.Equal(t, "`open` is already in progress.", f.lastText(t, "general"))

	f.say("general", "ana", "!ceremony start nope")
	assert.Equal(t, "There is no ceremony called `nope`.", f.lastText(t, "general"))

	f.venue.RemoveChannel("ceremony-dusk")
	f.say("general", "ana", "!ceremony start dusk")
	assert.Equal(t, "The channel for `dusk` is unavailable.", f.lastText(t, "general"))

	f.say("general", "ana", "!ceremony start")
	assert.Contains(t, f.lastText(t, "general"), "!ceremony start <id>")
}

func TestCeremonyChannelParticipation(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Start(context.Background(), "open")
	require.NoError(t, err)

	f.say("ceremony-open", "ana", "I am grateful for rain")
	assert.Equal(t,
		"Thank you for your presence in the Open Circle. Your energy contributes to our collective field.",
		f.lastText(t, "ceremony-open"))

	inst := f.orch.ActiveInChannel("ceremony-open")
	require.Len(t, inst, 1)
	assert.Equal(t, []string{"ana"}, inst[0].Participants)
}

func TestJoin(t *testing.T) {
	f := newFixture(t)

	f.say("general", "ana", "!join")
	assert.Contains(t, f.lastText(t, "general"), "No ceremony is in progress")

	_, err := f.orch.Start(context.Background(), "open")
	require.NoError(t, err)
	_, err = f.orch.Start(context.Background(), "dusk")
	require.NoError(t, err)

	f.say("ceremony-dusk", "ben", "!join")
	assert.Equal(t, "You have joined Dusk Circle.", f.lastText(t, "ceremony-dusk"))

	f.say("general", "cy", "!join")
	assert.Equal(t, "You have joined Dusk Circle, Open Circle.", f.lastText(t, "general"))

	for _, inst := range f.orch.ActiveInstances() {
		switch inst.DefinitionID {
		case "dusk":
			assert.ElementsMatch(t, []string{"ben", "cy"}, inst.Participants)
		case "open":
			assert.ElementsMatch(t, []string{"cy"}, inst.Participants)
		}
	}
}

func TestScheduledCeremonyRuns(t *testing.T) {
	f := newFixture(t)

	require.Eventually(t, func() bool {
		if len(eventsOf[eventbus.CeremonyCompleted](f.log)) == 1 {
			return true
		}
		f.mock.Add(time.Minute)
		return false
	}, 5*time.Second, time.Millisecond)

	announced := eventsOf[eventbus.CeremonyAnnounced](f.log)
	require.NotEmpty(t, announced)
	assert.Equal(t, "dawn", announced[0].DefinitionID)
	six := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	assert.False(t, announced[0].StartedAt.Before(six))
	assert.True(t, announced[0].StartedAt.Before(six.Add(10*time.Minute)))

	completed := eventsOf[eventbus.CeremonyCompleted](f.log)[0]
	assert.Equal(t, 20*time.Minute, completed.DurationActual)
	assert.False(t, completed.Forced)

	var guided bool
	for _, s := range f.venue.Sent("ceremony-dawn") {
		if s.Message.Author == "Lumina the Clear" {
			guided = true
			assert.Contains(t, s.Message.Text, "offer guidance for the Arrival phase")
		}
	}
	assert.True(t, guided, "phase lead guidance is posted")
}

func TestShutdown_ForceCompletesAndStopsScheduler(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Start(context.Background(), "open")
	require.NoError(t, err)

	require.NoError(t, f.hub.Shutdown(context.Background()))
	require.NoError(t, f.hub.Shutdown(context.Background()))

	completed := eventsOf[eventbus.CeremonyCompleted](f.log)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Forced)

	announcedBefore := len(eventsOf[eventbus.CeremonyAnnounced](f.log))
	for i := 0; i < 48; i++ {
		f.mock.Add(time.Hour)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, eventsOf[eventbus.CeremonyAnnounced](f.log), announcedBefore, "no scheduler fires after shutdown")

	f.say("general", "ana", "!ceremony start dawn")
	assert.Equal(t, "The hub is closing; no new ceremonies can begin.", f.lastText(t, "general"))

	f.say("general", "ana", "!council anything")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, eventsOf[eventbus.DeliberationCompleted](f.log), "no deliberations after shutdown")
}
