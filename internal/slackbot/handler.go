package slackbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ca-srg/slackvote/internal/config"
	"github.com/ca-srg/slackvote/internal/poll"
)

var slackTracer = otel.Tracer("slackvote/slackbot")

// RetryHeader is set by Slack on redelivered callbacks
const RetryHeader = "X-Slack-Retry-Num"

// maxBodyBytes bounds the inbound callback payload
const maxBodyBytes = 1 << 20

// Response bodies. Every outcome is answered with 200 so Slack never redelivers.
const (
	BodyOK             = "OK"
	BodyNoRetry        = "No retry"
	BodyIgnoreBot      = "Ignore bot message"
	BodyIgnoreOwn      = "Ignore own message"
	BodyNoTrigger      = "No vote trigger"
	BodyZeroOption     = "Zero option"
	BodyTooManyOptions = "Too many options"
	BodyRateLimited    = "Rate limited"
)

// ErrMalformedPayload is returned by Handle when the callback body is not a JSON event envelope
var ErrMalformedPayload = errors.New("slackbot: malformed event payload")

// SlackClient wraps the subset of slack.Client the handler relies on
type SlackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
}

// Response is the plain-text answer to a callback
type Response struct {
	Body   string
	Status int
}

func ok(body string) Response {
	return Response{Body: body, Status: http.StatusOK}
}

// Handler receives Slack Events API callbacks and turns "!vote" commands into polls
type Handler struct {
	client   SlackClient
	cfg      *config.SlackConfig
	logger   *log.Logger
	rate     *RateLimiter
	reporter ErrorReporter
	metrics  Metrics
}

// NewHandler constructs the events handler
func NewHandler(client SlackClient, cfg *config.SlackConfig, logger *log.Logger) (*Handler, error) {
	if client == nil {
		return nil, fmt.Errorf("nil slack client")
	}
	if cfg == nil {
		return nil, fmt.Errorf("nil slack config")
	}
	if logger == nil {
		logger = log.New(os.Stdout, "slackbot ", log.LstdFlags)
	}
	return &Handler{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		reporter: &noopReporter{},
	}, nil
}

// SetRateLimiter enables poll throttling. A nil limiter allows everything.
func (h *Handler) SetRateLimiter(rl *RateLimiter) { h.rate = rl }

// SetErrorReporter sets where poll creation failures are reported. Nil restores the no-op reporter.
func (h *Handler) SetErrorReporter(r ErrorReporter) {
	if r == nil {
		r = &noopReporter{}
	}
	h.reporter = r
}

// Metrics exposes the in-process counters
func (h *Handler) Metrics() *Metrics { return &h.metrics }

// ServeHTTP implements http.Handler for POST /slack/events
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}

	if h.cfg.VerifySignatures() {
		if err := verifySignature(r.Header, body, h.cfg.SigningSecret); err != nil {
			h.logger.Printf("event=verify_signature status=rejected remote=%s err=%v", r.RemoteAddr, err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	resp, err := h.Handle(r.Context(), r.Header, body)
	if err != nil {
		h.logger.Printf("event=decode_payload status=error err=%v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}

// Handle runs one callback through retry suppression, the challenge handshake,
// event filtering and poll creation. The error is non-nil only for undecodable payloads.
func (h *Handler) Handle(ctx context.Context, header http.Header, body []byte) (Response, error) {
	// redeliveries would post the poll twice
	if len(header.Values(RetryHeader)) > 0 {
		return ok(BodyNoRetry), nil
	}

	var envelope slackevents.EventsAPICallbackEvent
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if envelope.Type == string(slackevents.URLVerification) {
		var challenge slackevents.EventsAPIURLVerificationEvent
		if err := json.Unmarshal(body, &challenge); err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return ok(challenge.Challenge), nil
	}

	if envelope.InnerEvent == nil {
		return ok(BodyOK), nil
	}

	// Other event types carry object-valued user/channel fields, so only the type is read first
	var inner struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(*envelope.InnerEvent, &inner); err != nil {
		return ok(BodyOK), nil
	}
	switch inner.Type {
	case string(slackevents.AppMention), string(slackevents.Message):
	default:
		return ok(BodyOK), nil
	}

	var ev slackevents.MessageEvent
	if err := json.Unmarshal(*envelope.InnerEvent, &ev); err != nil {
		return Response{}, fmt.Errorf("%w: event: %v", ErrMalformedPayload, err)
	}
	return h.handleMessage(ctx, envelope.EventID, &ev), nil
}

func (h *Handler) handleMessage(ctx context.Context, eventID string, ev *slackevents.MessageEvent) Response {
	if ev.SubType == slack.MsgSubTypeBotMessage {
		return ok(BodyIgnoreBot)
	}
	if h.cfg.BotUserID != "" && ev.User == h.cfg.BotUserID {
		return ok(BodyIgnoreOwn)
	}
	if !poll.HasTrigger(ev.Text) {
		return ok(BodyNoTrigger)
	}

	// Slack may drop the inbound connection; outbound calls still run to completion
	ctx = context.WithoutCancel(ctx)

	ctx, span := slackTracer.Start(ctx, "slackbot.handle_event")
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("slack.event_type", ev.Type),
		attribute.String("slack.channel", ev.Channel),
	}
	span.SetAttributes(append(attrs,
		attribute.String("slack.user_id", ev.User),
		attribute.String("slack.ts", ev.TimeStamp),
		attribute.String("slack.event_id", eventID),
	)...)

	h.metrics.RecordEvent()
	start := time.Now()
	resp := ok(BodyOK)
	hadError := false

	body, err := h.createPoll(ctx, ev)
	if err != nil {
		hadError = true
		h.metrics.RecordError()
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll creation failed")
		h.logger.Printf("event=create_poll status=error channel=%s ts=%s err=%v", ev.Channel, ev.TimeStamp, err)
		h.reporter.Report(err, map[string]string{"channel": ev.Channel, "ts": ev.TimeStamp})
		h.notify(ctx, ev.Channel, ev.TimeStamp, poll.Notice(err))
	} else {
		resp = ok(body)
	}

	elapsed := time.Since(start)
	h.metrics.RecordLatency(elapsed)
	attrs = append(attrs, attribute.String("slack.result", resp.Body))
	recordSlackMetrics(ctx, attrs, elapsed, hadError, resp.Body == BodyOK && !hadError)
	return resp
}

// createPoll is the error boundary around parsing and posting. Panics are turned into errors.
func (h *Handler) createPoll(ctx context.Context, ev *slackevents.MessageEvent) (body string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	options := poll.ParseOptions(ev.Text)
	if verr := poll.Validate(options); verr != nil {
		if err := h.postNotice(ctx, ev.Channel, ev.TimeStamp, poll.Notice(verr)); err != nil {
			return "", err
		}
		if errors.Is(verr, poll.ErrNoOptions) {
			return BodyZeroOption, nil
		}
		return BodyTooManyOptions, nil
	}

	if !h.rate.Allow(ev.User, ev.Channel) {
		h.logger.Printf("event=rate_limit_exceeded user=%s channel=%s", ev.User, ev.Channel)
		return BodyRateLimited, nil
	}

	text, err := poll.BuildMessage(options)
	if err != nil {
		return "", err
	}
	_, msgTS, err := h.client.PostMessageContext(ctx, ev.Channel, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("post poll: %w", err)
	}
	h.metrics.RecordPoll()
	h.logger.Printf("event=post_poll status=ok channel=%s ts=%s options=%d", ev.Channel, msgTS, len(options))

	h.seedReactions(ctx, ev.Channel, msgTS, len(options))
	return BodyOK, nil
}

// seedReactions adds one reaction per option, in order. Failures are logged and skipped.
func (h *Handler) seedReactions(ctx context.Context, channel, msgTS string, count int) {
	ref := slack.NewRefToMessage(channel, msgTS)
	for i := 0; i < count; i++ {
		name := poll.ReactionName(i)
		if err := h.client.AddReactionContext(ctx, name, ref); err != nil {
			h.metrics.RecordError()
			h.logger.Printf("event=add_reaction status=error channel=%s ts=%s name=%s err=%v", channel, msgTS, name, err)
		}
	}
}

func (h *Handler) postNotice(ctx context.Context, channel, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := h.client.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("post notice: %w", err)
	}
	h.metrics.RecordNotice()
	return nil
}

// notify is the best-effort variant of postNotice used by the error boundary
func (h *Handler) notify(ctx context.Context, channel, threadTS, text string) {
	if channel == "" {
		return
	}
	if err := h.postNotice(ctx, channel, threadTS, text); err != nil {
		h.logger.Printf("event=post_message status=error channel=%s err=%v", channel, err)
	}
}
