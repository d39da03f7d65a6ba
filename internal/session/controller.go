package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/matthew-salter/panny-panface/internal/agents"
	"github.com/matthew-salter/panny-panface/internal/delivery"
	"github.com/matthew-salter/panny-panface/internal/transcript"
)

// Status is the connection state of a session.
type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
)

const (
	msgWarning     = "Conversation will time out in 1 minute."
	msgTimedOut    = "Conversation timed out after 10 minutes. Please wait 2 minutes to refresh."
	msgCooldownEnd = "Refresh period ended. You can now start a new conversation."
	msgSaved       = "Conversation ended and transcript saved."
	msgSaveFailed  = "Failed to save transcript. Please try again."
	msgEndError    = "An error occurred while ending the conversation."

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Config controls session timing and the agent the session talks to.
type Config struct {
	Agent agents.Agent
	// Voice is used when the agent does not name one.
	Voice string

	Timeout  time.Duration
	Warning  time.Duration
	Cooldown time.Duration
	Tick     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Voice:    "coral",
		Timeout:  10 * time.Minute,
		Warning:  time.Minute,
		Cooldown: 2 * time.Minute,
		Tick:     time.Second,
	}
}

// State is a point-in-time copy of the controller state.
type State struct {
	Status            Status
	StartedAt         time.Time
	Paused            bool
	TimedOut          bool
	InCooldown        bool
	CooldownEndsAt    time.Time
	CooldownRemaining time.Duration
	Warned            bool
	Sending           bool
	Preview           string
}

// Controller owns one realtime session: connection lifecycle, the hard
// timeout and reconnect cooldown, pause, and the transcript log. All
// transport callbacks and timer ticks are serialized through mu.
type Controller struct {
	transport Transport
	sender    TranscriptSender
	sched     Scheduler
	now       func() time.Time
	notify    func()
	cfg       Config
	log       *transcript.Log

	mu sync.Mutex

	status         Status
	conn           Conn
	gen            uint64
	startedAt      time.Time
	paused         bool
	timedOut       bool
	inCooldown     bool
	cooldownEndsAt time.Time
	remaining      time.Duration
	warned         bool
	sending        bool
	preview        string

	stopSession   func()
	stopCooldown  func()
	cooldownToken uint64
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithNotify registers fn to run after every state or transcript change.
// fn runs without the controller lock held.
func WithNotify(fn func()) Option {
	return func(c *Controller) { c.notify = fn }
}

func New(t Transport, s TranscriptSender, cfg Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Warning <= 0 || cfg.Warning >= cfg.Timeout {
		cfg.Warning = def.Warning
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}

	c := &Controller{
		transport: t,
		sender:    s,
		sched:     TickerScheduler{},
		now:       time.Now,
		cfg:       cfg,
		status:    StatusDisconnected,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = transcript.NewLog(c.now)
	return c
}

func (c *Controller) unlock() {
	c.mu.Unlock()
	if c.notify != nil {
		c.notify()
	}
}

// Log returns the transcript of the current session.
func (c *Controller) Log() *transcript.Log {
	return c.log
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Status:            c.status,
		StartedAt:         c.startedAt,
		Paused:            c.paused,
		TimedOut:          c.timedOut,
		InCooldown:        c.inCooldown,
		CooldownEndsAt:    c.cooldownEndsAt,
		CooldownRemaining: c.remaining,
		Warned:            c.warned,
		Sending:           c.sending,
		Preview:           c.preview,
	}
}

// Connect starts a session unless one is already starting or running. It
// returns ErrCooldownActive while a post-timeout cooldown is in effect.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	if c.inCooldown {
		c.mu.Unlock()
		return ErrCooldownActive
	}
	c.timedOut = false
	c.paused = false
	c.status = StatusConnecting
	c.gen++
	gen := c.gen
	c.unlock()

	slog.Debug("client event", "event", "fetch_session_token_request")
	cred, err := c.transport.FetchEphemeralCredential(ctx)
	if err == nil && cred == "" {
		err = ErrNoCredential
	}
	if err != nil {
		c.connectFailed(gen, err)
		return err
	}

	conn, err := c.transport.Open(ctx, cred, c.handlers(gen))
	if err != nil {
		c.connectFailed(gen, err)
		return err
	}

	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		// Disconnected while the handshake was in flight.
		_ = conn.Close()
		return nil
	}
	if c.conn == nil {
		c.conn = conn
	}
	return nil
}

func (c *Controller) handlers(gen uint64) Handlers {
	return Handlers{
		OnOpen:    func(conn Conn) { c.handleOpen(gen, conn) },
		OnMessage: func(raw []byte) { c.handleMessage(gen, raw) },
		OnClose:   func() { c.handleClose(gen) },
		OnError:   func(err error) { c.handleError(gen, err) },
	}
}

func (c *Controller) connectFailed(gen uint64, err error) {
	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		return
	}
	slog.Warn("realtime connect failed", "error", err)
	c.log.AddBreadcrumb("Connection failed: "+err.Error(), nil)
	c.teardown()
}

func (c *Controller) handleOpen(gen uint64, conn Conn) {
	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		_ = conn.Close()
		return
	}

	slog.Debug("client event", "event", "data_channel.open")
	c.conn = conn
	c.status = StatusConnected
	c.startedAt = c.now()
	c.timedOut = false
	c.warned = false
	c.paused = false
	c.clearCooldown()

	if a := conn.Audio(); a != nil {
		a.SetEnabled(true)
	}

	// Each session delivers only its own turns.
	c.log.Reset()
	c.log.AddBreadcrumb("Agent: "+c.cfg.Agent.Name, c.cfg.Agent)
	c.updateSession(true)

	if c.stopSession != nil {
		c.stopSession()
	}
	c.stopSession = c.sched.Every(c.cfg.Tick, func() { c.tickSession(gen) })
}

func (c *Controller) handleMessage(gen uint64, raw []byte) {
	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		return
	}
	c.dispatch(raw)
}

func (c *Controller) handleClose(gen uint64) {
	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		return
	}
	slog.Debug("client event", "event", "data_channel.close")
	c.teardown()
}

func (c *Controller) handleError(gen uint64, err error) {
	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen {
		return
	}
	slog.Warn("realtime transport error", "error", err)
	c.log.AddBreadcrumb("Connection error: "+err.Error(), nil)
	c.teardown()
}

// Disconnect ends the session without saving the transcript.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.unlock()
	if c.status == StatusDisconnected {
		return
	}
	c.teardown()
}

// teardown is the single disconnect path. Callers hold mu.
func (c *Controller) teardown() {
	if c.conn != nil {
		if a := c.conn.Audio(); a != nil {
			a.Stop()
		}
		if err := c.conn.Close(); err != nil {
			slog.Debug("realtime close", "error", err)
		}
		c.conn = nil
	}
	if c.stopSession != nil {
		c.stopSession()
		c.stopSession = nil
	}
	c.status = StatusDisconnected
	c.paused = false
	c.preview = ""
	c.gen++
	slog.Debug("client event", "event", "disconnected")
}

func (c *Controller) tickSession(gen uint64) {
	c.mu.Lock()
	defer c.unlock()
	if c.gen != gen || c.status != StatusConnected {
		return
	}

	elapsed := c.now().Sub(c.startedAt)
	switch {
	case elapsed >= c.cfg.Timeout:
		slog.Info("session timed out", "elapsed", elapsed)
		c.log.AddBreadcrumb(msgTimedOut, nil)
		c.teardown()
		c.timedOut = true
		c.warned = false
		c.startedAt = time.Time{}
		c.startCooldown()
	case elapsed >= c.cfg.Timeout-c.cfg.Warning && !c.warned:
		c.warned = true
		slog.Info("session timeout warning", "elapsed", elapsed)
		c.log.AddBreadcrumb(msgWarning, nil)
	}
}

func (c *Controller) startCooldown() {
	c.inCooldown = true
	c.cooldownEndsAt = c.now().Add(c.cfg.Cooldown)
	c.remaining = c.cfg.Cooldown
	c.cooldownToken++
	token := c.cooldownToken
	if c.stopCooldown != nil {
		c.stopCooldown()
	}
	c.stopCooldown = c.sched.Every(c.cfg.Tick, func() { c.tickCooldown(token) })
}

func (c *Controller) tickCooldown(token uint64) {
	c.mu.Lock()
	defer c.unlock()
	if token != c.cooldownToken || !c.inCooldown {
		return
	}

	remaining := c.cooldownEndsAt.Sub(c.now())
	if remaining > 0 {
		c.remaining = remaining
		return
	}

	c.clearCooldown()
	c.timedOut = false
	c.log.AddBreadcrumb(msgCooldownEnd, nil)
	slog.Info("cooldown ended")
}

func (c *Controller) clearCooldown() {
	c.inCooldown = false
	c.cooldownEndsAt = time.Time{}
	c.remaining = 0
	c.cooldownToken++
	if c.stopCooldown != nil {
		c.stopCooldown()
		c.stopCooldown = nil
	}
}

// TogglePause flips the pause flag and the outbound audio track. It does
// nothing unless connected.
func (c *Controller) TogglePause() {
	c.mu.Lock()
	defer c.unlock()
	if c.status != StatusConnected {
		return
	}
	c.paused = !c.paused
	if c.conn != nil {
		if a := c.conn.Audio(); a != nil {
			a.SetEnabled(!c.paused)
		}
	}
	event := "microphone.resume"
	if c.paused {
		event = "microphone.pause"
	}
	slog.Debug("client event", "event", event)
}

// WriteAudio feeds pcm16 audio to the open session's track. Audio written
// while paused is dropped by the track.
func (c *Controller) WriteAudio(pcm []byte) (int, error) {
	c.mu.Lock()
	var track AudioTrack
	if c.status == StatusConnected && c.conn != nil {
		track = c.conn.Audio()
	}
	c.mu.Unlock()

	if track == nil {
		return 0, ErrNotConnected
	}
	return track.Write(pcm)
}

// suppressed reports whether client-initiated sends must be dropped.
func (c *Controller) suppressed() bool {
	return c.timedOut || c.inCooldown || c.paused
}

func (c *Controller) send(event any, name string) {
	if c.conn == nil {
		slog.Debug("client event dropped, no connection", "event", name)
		return
	}
	slog.Debug("client event", "event", name)
	if err := c.conn.Send(event); err != nil {
		slog.Warn("client event send failed", "event", name, "error", err)
	}
}

// UpdateSession pushes the agent configuration to the model and, when
// triggerResponse is set, opens the conversation with a simulated greeting.
func (c *Controller) UpdateSession(triggerResponse bool) {
	c.mu.Lock()
	defer c.unlock()
	c.updateSession(triggerResponse)
}

func (c *Controller) updateSession(triggerResponse bool) {
	if c.suppressed() {
		return
	}
	c.send(simpleEvent{Type: "input_audio_buffer.clear"}, "input_audio_buffer.clear")

	voice := c.cfg.Agent.Voice
	if voice == "" {
		voice = c.cfg.Voice
	}
	c.send(newSessionUpdate(c.cfg.Agent, voice), "session.update")

	if triggerResponse {
		c.sendSimulated("hi")
	}
}

// SendSimulatedMessage sends text as if the user had said it.
func (c *Controller) SendSimulatedMessage(text string) {
	c.mu.Lock()
	defer c.unlock()
	c.sendSimulated(text)
}

func (c *Controller) sendSimulated(text string) {
	if c.suppressed() {
		return
	}
	id := transcript.NewID()
	c.log.AddMessage(id, transcript.RoleUser, text, true)
	c.send(newUserMessage(id, text), "conversation.item.create")
	c.send(simpleEvent{Type: "response.create"}, "response.create")
}

// SendText sends a typed user message. Blank input is ignored.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	defer c.unlock()
	if c.status != StatusConnected {
		return ErrNotConnected
	}
	if c.suppressed() {
		return nil
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	id := transcript.NewID()
	c.log.AddMessage(id, transcript.RoleUser, trimmed, true)
	c.send(newUserMessage(id, trimmed), "conversation.item.create")
	c.send(simpleEvent{Type: "response.create"}, "response.create")
	return nil
}

// CancelAssistantSpeech truncates the assistant reply that is still playing.
func (c *Controller) CancelAssistantSpeech() {
	c.mu.Lock()
	defer c.unlock()
	if c.suppressed() {
		return
	}

	last, ok := c.log.LastAssistant()
	if !ok {
		slog.Debug("cancel speech: no assistant message")
		return
	}
	if last.Status == transcript.StatusDone {
		return
	}

	c.send(truncateEvent{
		Type:         "conversation.item.truncate",
		ItemID:       last.ID,
		ContentIndex: 0,
		AudioEndMs:   c.now().Sub(last.CreatedAt).Milliseconds(),
	}, "conversation.item.truncate")
	c.send(simpleEvent{Type: "response.create"}, "response.create")
}

// EndConversation saves the transcript and disconnects once the save is
// confirmed. On failure the session stays connected so the user can retry.
func (c *Controller) EndConversation(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.sending:
		c.mu.Unlock()
		return ErrSendInFlight
	case c.status != StatusConnected:
		c.mu.Unlock()
		return ErrNotConnected
	case c.paused:
		c.mu.Unlock()
		return nil
	}

	if c.log.Len() == 0 {
		c.teardown()
		c.unlock()
		return nil
	}

	req := c.payload()
	gen := c.gen
	c.sending = true
	c.unlock()

	slog.Debug("client event", "event", "transcript.save.explicit")
	err := c.sender.Save(ctx, req)

	c.mu.Lock()
	defer c.unlock()
	c.sending = false

	if err != nil {
		var hs httpStatuser
		if errors.As(err, &hs) {
			slog.Warn("transcript save rejected", "status", hs.HTTPStatus(), "error", err)
			c.log.AddBreadcrumb(msgSaveFailed, nil)
		} else {
			slog.Error("transcript save failed", "error", err)
			c.log.AddBreadcrumb(msgEndError, nil)
		}
		return fmt.Errorf("end conversation: %w", err)
	}

	c.log.AddBreadcrumb(msgSaved, nil)
	if c.gen == gen && c.status == StatusConnected {
		c.teardown()
	}
	return nil
}

// Close releases the session for good. A non-empty transcript is handed to
// the sender's beacon without waiting for any answer.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.unlock()

	if c.log.Len() > 0 && c.sender != nil {
		c.sender.Beacon(c.payload())
		slog.Debug("client event", "event", "transcript.save.beacon")
	}
	if c.status != StatusDisconnected {
		c.teardown()
	}
	c.clearCooldown()
}

// payload builds the save request for the current transcript. Callers hold mu.
func (c *Controller) payload() delivery.SaveRequest {
	now := c.now()
	label := ""
	conversationID := fmt.Sprintf("session-%d", now.UnixMilli())
	if !c.startedAt.IsZero() {
		label = fmt.Sprintf("session-%d", c.startedAt.UnixMilli())
		conversationID = label
	}
	return delivery.SaveRequest{
		FileName:       transcript.GenerateFilename(label, now),
		Content:        transcript.Format(c.log.Entries()),
		ConversationID: conversationID,
		Timestamp:      now.UTC().Format(timestampLayout),
	}
}

// dispatch applies one server event to the transcript log. Callers hold mu.
func (c *Controller) dispatch(raw []byte) {
	var ev serverEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("malformed server event", "error", err)
		return
	}
	slog.Debug("server event", "event", ev.Type)

	switch ev.Type {
	case "conversation.item.created":
		if ev.Item == nil || ev.Item.Type != "message" {
			return
		}
		role := transcript.Role(ev.Item.Role)
		if role != transcript.RoleUser && role != transcript.RoleAssistant {
			return
		}
		text := ""
		done := false
		if len(ev.Item.Content) > 0 {
			part := ev.Item.Content[0]
			text = part.Text
			if text == "" {
				text = part.Transcript
			}
			done = role == transcript.RoleUser && part.Type == "input_text"
		}
		c.log.AddMessage(ev.Item.ID, role, text, done)

	case "conversation.item.input_audio_transcription.completed":
		text := strings.TrimSpace(ev.Transcript)
		if text == "" {
			text = "[inaudible]"
		}
		c.log.UpdateText(ev.ItemID, text, false)
		c.log.SetStatus(ev.ItemID, transcript.StatusDone)

	case "response.audio_transcript.delta", "response.text.delta":
		c.log.UpdateText(ev.ItemID, ev.Delta, true)

	case "response.output_item.done":
		if ev.Item != nil {
			c.log.SetStatus(ev.Item.ID, transcript.StatusDone)
		}

	case "conversation.item.update":
		if ev.Item != nil && ev.Item.Role == "assistant" && len(ev.Item.Content) > 0 && ev.Item.Content[0].Text != "" {
			c.preview = ev.Item.Content[0].Text
		}

	case "error":
		msg := "unknown error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		slog.Warn("realtime server error", "message", msg)
		c.log.AddBreadcrumb("Error: "+msg, nil)
	}
}
