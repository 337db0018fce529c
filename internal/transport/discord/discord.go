// Package discord binds a Discord bot to the pipeline using discordgo.
// The bot answers messages that mention it (or any message in a DM),
// keeps a typing indicator alive while a request is processing, and
// uploads tool artifacts as file attachments.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/pipeline"
	"github.com/parleyhq/parley/internal/transport"
	"github.com/parleyhq/parley/pkg/models"
)

// maxMessageLength is Discord's hard message size limit.
const maxMessageLength = 2000

// typingInterval refreshes the indicator before Discord's ~10s expiry.
const typingInterval = 8 * time.Second

// session is the slice of discordgo.Session the binding uses, kept
// narrow so tests can fake it.
type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Binding connects Discord to a transport.Handler.
type Binding struct {
	session session
	handler transport.Handler
	logger  *observability.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	botID  string
}

// New creates a binding from a bot token.
func New(token string, handler transport.Handler, logger *observability.Logger, metrics *observability.Metrics) (*Binding, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	return newWithSession(dg, handler, logger, metrics), nil
}

func newWithSession(s session, handler transport.Handler, logger *observability.Logger, metrics *observability.Metrics) *Binding {
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Binding{
		session: s,
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

// Start opens the gateway connection and dispatches messages until the
// context is cancelled.
func (b *Binding) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleMessageCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	b.logger.Info("discord binding started")

	<-ctx.Done()
	return b.Close()
}

// Close disconnects and waits briefly for in-flight handlers.
func (b *Binding) Close() error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		b.logger.Warn("discord close timed out waiting for handlers")
	}
	return b.session.Close()
}

func (b *Binding) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	b.botID = r.User.ID
	b.mu.Unlock()
	b.logger.Info("discord gateway ready", "bot", r.User.Username)
}

func (b *Binding) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	b.mu.Lock()
	botID := b.botID
	ctx := b.ctx
	b.mu.Unlock()

	if ctx == nil || m.Author == nil || m.Author.Bot || m.Author.ID == botID {
		return
	}
	text, addressed := b.extractText(m, botID)
	if !addressed {
		return
	}
	if b.metrics != nil {
		b.metrics.MessagesInbound.WithLabelValues("discord").Inc()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.process(ctx, m, text)
	}()
}

// extractText strips the bot mention and reports whether the message
// was addressed to the bot. DMs are always addressed.
func (b *Binding) extractText(m *discordgo.MessageCreate, botID string) (string, bool) {
	text := m.Content
	if m.GuildID == "" {
		return strings.TrimSpace(text), true
	}
	mentioned := false
	for _, user := range m.Mentions {
		if user.ID == botID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return "", false
	}
	for _, form := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		text = strings.ReplaceAll(text, form, "")
	}
	return strings.TrimSpace(text), true
}

func (b *Binding) process(ctx context.Context, m *discordgo.MessageCreate, text string) {
	msg := transport.InboundMessage{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		UserID:      m.Author.ID,
		UserName:    m.Author.Username,
		Text:        text,
		Attachments: convertAttachments(m.Attachments),
	}

	stopTyping := func() {}
	working := func() { stopTyping = b.keepTyping(ctx, m.ChannelID) }

	reply, err := b.handler.Handle(ctx, msg, working)
	stopTyping()

	if err != nil {
		b.deliverError(m.ChannelID, err)
		return
	}
	b.deliver(m.ChannelID, reply)
}

// keepTyping shows the indicator and refreshes it until the returned
// stop function is called.
func (b *Binding) keepTyping(ctx context.Context, channelID string) func() {
	tctx, cancel := context.WithCancel(ctx)
	_ = b.session.ChannelTyping(channelID)
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				_ = b.session.ChannelTyping(channelID)
			}
		}
	}()
	return cancel
}

func (b *Binding) deliver(channelID string, reply *transport.Reply) {
	text := reply.Text
	if text == "" && len(reply.Artifacts) == 0 {
		return
	}

	if len(reply.Artifacts) > 0 {
		send := &discordgo.MessageSend{Content: truncate(text)}
		for _, artifact := range reply.Artifacts {
			if len(artifact.Data) == 0 {
				continue
			}
			send.Files = append(send.Files, &discordgo.File{
				Name:        artifact.Filename,
				ContentType: artifact.MimeType,
				Reader:      bytes.NewReader(artifact.Data),
			})
		}
		if _, err := b.session.ChannelMessageSendComplex(channelID, send); err != nil {
			b.logger.Error("failed to send reply with artifacts", "error", err, "channel_id", channelID)
		}
		return
	}

	for _, chunk := range splitMessage(text) {
		if _, err := b.session.ChannelMessageSend(channelID, chunk); err != nil {
			b.logger.Error("failed to send reply", "error", err, "channel_id", channelID)
			return
		}
	}
}

// deliverError maps typed pipeline errors to short user-visible
// notices.
func (b *Binding) deliverError(channelID string, err error) {
	var notice string
	if rejected, ok := pipeline.IsRejected(err); ok {
		switch rejected.Reason {
		case pipeline.ReasonChannelBusy:
			notice = "I'm handling a few things in this channel right now, give me a moment and try again."
		default:
			wait := rejected.RetryAfter.Round(time.Second)
			if wait > 0 {
				notice = fmt.Sprintf("You're sending messages a bit fast, try again in %s.", wait)
			} else {
				notice = "You're sending messages a bit fast, try again shortly."
			}
		}
	} else if pipeline.IsModelUnavailable(err) {
		notice = "I couldn't reach my brain just now, please try again in a minute."
	} else {
		b.logger.Error("request failed", "error", err, "channel_id", channelID)
		notice = "Something went wrong on my end, sorry about that."
	}

	if _, err := b.session.ChannelMessageSend(channelID, notice); err != nil {
		b.logger.Error("failed to send error notice", "error", err, "channel_id", channelID)
	}
}

func convertAttachments(attachments []*discordgo.MessageAttachment) []models.Attachment {
	out := make([]models.Attachment, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, models.Attachment{
			ID:       a.ID,
			Type:     attachmentType(a.ContentType),
			URL:      a.URL,
			Filename: a.Filename,
			MimeType: a.ContentType,
		})
	}
	return out
}

func attachmentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "document"
	}
}

// truncate caps text at Discord's limit. The limit counts characters,
// not bytes, so the cut lands on a rune boundary.
func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return text
	}
	return string(runes[:maxMessageLength-1]) + "…"
}

// splitMessage breaks long replies at line boundaries where possible,
// cutting between runes so no chunk carries a torn multibyte character.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return []string{text}
	}
	var chunks []string
	for len(runes) > maxMessageLength {
		cut := lastNewline(runes[:maxMessageLength])
		if cut < maxMessageLength/2 {
			cut = maxMessageLength
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
