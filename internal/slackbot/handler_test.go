package slackbot

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/slackvote/internal/config"
)

type postedMessage struct {
	Channel  string
	Text     string
	ThreadTS string
}

type addedReaction struct {
	Name      string
	Channel   string
	Timestamp string
}

type fakeSlackClient struct {
	mu          sync.Mutex
	posts       []postedMessage
	reactions   []addedReaction
	postErr     func(call int) error
	reactionErr func(name string) error
}

func (f *fakeSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	_, values, err := slack.UnsafeApplyMsgOptions("xoxb-test", channelID, "https://slack.example.com/api/", options...)
	if err != nil {
		return "", "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.posts)
	f.posts = append(f.posts, postedMessage{
		Channel:  channelID,
		Text:     values.Get("text"),
		ThreadTS: values.Get("thread_ts"),
	})
	if f.postErr != nil {
		if err := f.postErr(call); err != nil {
			return "", "", err
		}
	}
	return channelID, fmt.Sprintf("1700000000.%06d", call+1), nil
}

func (f *fakeSlackClient) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, addedReaction{Name: name, Channel: item.Channel, Timestamp: item.Timestamp})
	if f.reactionErr != nil {
		return f.reactionErr(name)
	}
	return nil
}

func (f *fakeSlackClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts) + len(f.reactions)
}

type captureReporter struct {
	errs []error
}

func (c *captureReporter) Report(err error, context map[string]string) {
	c.errs = append(c.errs, err)
}

func newTestHandler(t *testing.T, cfg *config.SlackConfig) (*Handler, *fakeSlackClient) {
	t.Helper()
	if cfg == nil {
		cfg = &config.SlackConfig{BotToken: "xoxb-test", BotUserID: "U0BOT"}
	}
	client := &fakeSlackClient{}
	h, err := NewHandler(client, cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return h, client
}

func messagePayload(eventType, user, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "event_callback",
		"event_id": "Ev01",
		"event": {"type": %q, "user": %q, "text": %q, "channel": "C123", "ts": "1699999999.000100"}
	}`, eventType, user, text))
}

func TestHandle_RetryHeaderSuppressesEverything(t *testing.T) {
	h, client := newTestHandler(t, nil)
	header := http.Header{}
	header.Set(RetryHeader, "1")

	resp, err := h.Handle(context.Background(), header, messagePayload("message", "U1", "!vote a, b"))
	require.NoError(t, err)
	assert.Equal(t, BodyNoRetry, resp.Body)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Zero(t, client.calls())
}

func TestHandle_RetryHeaderWithEmptyValue(t *testing.T) {
	h, client := newTestHandler(t, nil)
	header := http.Header{RetryHeader: []string{""}}

	resp, err := h.Handle(context.Background(), header, messagePayload("message", "U1", "!vote a, b"))
	require.NoError(t, err)
	assert.Equal(t, BodyNoRetry, resp.Body)
	assert.Zero(t, client.calls())
}

func TestHandle_RetriedDeliveryDoesNotDoublePost(t *testing.T) {
	h, client := newTestHandler(t, nil)
	payload := messagePayload("message", "U1", "!vote a, b")

	resp, err := h.Handle(context.Background(), http.Header{}, payload)
	require.NoError(t, err)
	require.Equal(t, BodyOK, resp.Body)

	retry := http.Header{}
	retry.Set(RetryHeader, "1")
	resp, err = h.Handle(context.Background(), retry, payload)
	require.NoError(t, err)
	require.Equal(t, BodyNoRetry, resp.Body)

	assert.Len(t, client.posts, 1)
	assert.Len(t, client.reactions, 2)
}

func TestHandle_URLVerificationEchoesChallenge(t *testing.T) {
	h, client := newTestHandler(t, nil)

	resp, err := h.Handle(context.Background(), http.Header{}, []byte(`{"type":"url_verification","challenge":"abc123","token":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", resp.Body)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Zero(t, client.calls())
}

func TestHandle_NoEventReturnsOK(t *testing.T) {
	h, client := newTestHandler(t, nil)

	resp, err := h.Handle(context.Background(), http.Header{}, []byte(`{"type":"event_callback"}`))
	require.NoError(t, err)
	assert.Equal(t, BodyOK, resp.Body)
	assert.Zero(t, client.calls())
}

func TestHandle_IgnoresOtherEventTypes(t *testing.T) {
	tests := []struct {
		name  string
		event string
	}{
		{
			name:  "message shaped reaction_added",
			event: `{"type":"reaction_added","user":"U1","text":"!vote a, b","channel":"C123","ts":"1.2"}`,
		},
		{
			name:  "user_change with user object",
			event: `{"type":"user_change","user":{"id":"U1","name":"alice","profile":{"real_name":"Alice"}}}`,
		},
		{
			name:  "team_join with user object",
			event: `{"type":"team_join","user":{"id":"U2","name":"bob"}}`,
		},
		{
			name:  "channel_created with channel object",
			event: `{"type":"channel_created","channel":{"id":"C9","name":"votes","created":1700000000,"creator":"U1"}}`,
		},
		{
			name:  "channel_rename with channel object",
			event: `{"type":"channel_rename","channel":{"id":"C9","name":"polls","created":1700000000}}`,
		},
		{
			name:  "reaction_added with item object",
			event: `{"type":"reaction_added","user":"U1","reaction":"one","item_user":"U0BOT","item":{"type":"message","channel":"C123","ts":"1700000000.000001"},"event_ts":"1700000001.000100"}`,
		},
		{
			name:  "event is not an object",
			event: `"message"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, client := newTestHandler(t, nil)
			payload := []byte(`{"type":"event_callback","event_id":"Ev02","event":` + tt.event + `}`)

			resp, err := h.Handle(context.Background(), http.Header{}, payload)
			require.NoError(t, err)
			assert.Equal(t, BodyOK, resp.Body)
			assert.Equal(t, http.StatusOK, resp.Status)

			req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(payload))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, BodyOK, rec.Body.String())

			assert.Zero(t, client.calls())
		})
	}
}

func TestHandle_MalformedMessageEventIsRejected(t *testing.T) {
	h, client := newTestHandler(t, nil)
	payload := []byte(`{"type":"event_callback","event":{"type":"message","user":{"id":"U1"},"text":"!vote a, b"}}`)

	_, err := h.Handle(context.Background(), http.Header{}, payload)
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Zero(t, client.calls())
}

func TestHandler_Setters(t *testing.T) {
	h, client := newTestHandler(t, nil)
	client.postErr = func(int) error { return errors.New("boom") }

	reporter := &captureReporter{}
	h.SetErrorReporter(reporter)
	_, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "!vote a"))
	require.NoError(t, err)
	require.Len(t, reporter.errs, 1)

	h.SetErrorReporter(nil)
	assert.NotPanics(t, func() {
		_, _ = h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "!vote a"))
	})
	assert.Len(t, reporter.errs, 1)

	h.SetRateLimiter(nil)
	client.postErr = nil
	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U2", "!vote a"))
	require.NoError(t, err)
	assert.Equal(t, BodyOK, resp.Body)
}

func TestHandle_IgnoresBotMessages(t *testing.T) {
	h, client := newTestHandler(t, nil)
	payload := []byte(`{"type":"event_callback","event":{"type":"message","subtype":"bot_message","text":"!vote a, b","channel":"C123","ts":"1.2"}}`)

	resp, err := h.Handle(context.Background(), http.Header{}, payload)
	require.NoError(t, err)
	assert.Equal(t, BodyIgnoreBot, resp.Body)
	assert.Zero(t, client.calls())
}

func TestHandle_IgnoresOwnMessages(t *testing.T) {
	h, client := newTestHandler(t, nil)

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U0BOT", "!vote a, b"))
	require.NoError(t, err)
	assert.Equal(t, BodyIgnoreOwn, resp.Body)
	assert.Zero(t, client.calls())
}

func TestHandle_UnsetBotUserIDNeverMatches(t *testing.T) {
	h, _ := newTestHandler(t, &config.SlackConfig{BotToken: "xoxb-test"})

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "", "hello"))
	require.NoError(t, err)
	assert.Equal(t, BodyNoTrigger, resp.Body)
}

func TestHandle_NoTrigger(t *testing.T) {
	h, client := newTestHandler(t, nil)

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "let's vote on lunch"))
	require.NoError(t, err)
	assert.Equal(t, BodyNoTrigger, resp.Body)
	assert.Zero(t, client.calls())
}

func TestHandle_PostsPollAndSeedsReactions(t *testing.T) {
	h, client := newTestHandler(t, nil)

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "!vote red, blue, green"))
	require.NoError(t, err)
	assert.Equal(t, BodyOK, resp.Body)

	require.Len(t, client.posts, 1)
	post := client.posts[0]
	assert.Equal(t, "C123", post.Channel)
	assert.Empty(t, post.ThreadTS, "poll must be a top-level message")
	assert.Equal(t, "📊 投票してください！\n:one: red\n:two: blue\n:three: green\n", post.Text)

	require.Len(t, client.reactions, 3)
	for i, name := range []string{"one", "two", "three"} {
		assert.Equal(t, name, client.reactions[i].Name)
		assert.Equal(t, "C123", client.reactions[i].Channel)
		assert.Equal(t, "1700000000.000001", client.reactions[i].Timestamp, "reactions target the posted poll")
	}
	assert.EqualValues(t, 1, h.Metrics().Polls.Load())
}

func TestHandle_AppMentionCreatesPoll(t *testing.T) {
	h, client := newTestHandler(t, nil)

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("app_mention", "U1", "<@U0BOT> !vote  a ,, b ,  "))
	require.NoError(t, err)
	assert.Equal(t, BodyOK, resp.Body)
	require.Len(t, client.posts, 1)
	assert.Equal(t, "📊 投票してください！\n:one: a\n:two: b\n", client.posts[0].Text)
	assert.Len(t, client.reactions, 2)
}

func TestHandle_ZeroOptionsPostsThreadedWarning(t *testing.T) {
	for _, text := range []string{"!vote", "!vote   ", "!vote , ,, "} {
		t.Run(text, func(t *testing.T) {
			h, client := newTestHandler(t, nil)

			resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", text))
			require.NoError(t, err)
			assert.Equal(t, BodyZeroOption, resp.Body)

			require.Len(t, client.posts, 1)
			assert.Equal(t, "1699999999.000100", client.posts[0].ThreadTS)
			assert.Contains(t, client.posts[0].Text, "投票の選択肢が見つかりませんでした")
			assert.Empty(t, client.reactions)
		})
	}
}

func TestHandle_TooManyOptionsPostsCount(t *testing.T) {
	h, client := newTestHandler(t, nil)
	options := make([]string, 11)
	for i := range options {
		options[i] = fmt.Sprintf("o%d", i+1)
	}

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "!vote "+strings.Join(options, ", ")))
	require.NoError(t, err)
	assert.Equal(t, BodyTooManyOptions, resp.Body)

	require.Len(t, client.posts, 1)
	assert.Equal(t, "1699999999.000100", client.posts[0].ThreadTS)
	assert.Contains(t, client.posts[0].Text, "11")
	assert.Empty(t, client.reactions)
}

func TestHandle_TenOptionsIsAccepted(t *testing.T) {
	h, client := newTestHandler(t, nil)
	options := make([]string, 10)
	for i := range options {
		options[i] = fmt.Sprintf("o%d", i+1)
	}

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "!vote "+strings.Join(options, ",")))
	require.NoError(t, err)
	assert.Equal(t, BodyOK, resp.Body)
	require.Len(t, client.reactions, 10)
	assert.Equal(t, "keycap_ten", client.reactions[9].Name)
}

func TestHandle_PostFailureNotifiesUser(t *testing.T) {
	h, client := newTestHandler(t, nil)
	reporter := &captureReporter{}
	h.SetErrorReporter(reporter)
	client.postErr = func(call int) error {
		if call == 0 {
			return errors.New("channel_not_found")
		}
		return nil
	}

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "!vote a, b"))
	require.NoError(t, err)
	assert.Equal(t, BodyOK, resp.Body)
	assert.Equal(t, http.StatusOK, resp.Status)

	require.Len(t, client.posts, 2)
	notice := client.posts[1]
	assert.Equal(t, "1699999999.000100", notice.ThreadTS)
	assert.Contains(t, notice.Text, "投票の形式に問題があります")
	assert.Contains(t, notice.Text, "channel_not_found")
	assert.Empty(t, client.reactions)
	require.Len(t, reporter.errs, 1)
	assert.EqualValues(t, 1, h.Metrics().Errors.Load())
}

func TestHandle_NoticeFailureIsAbsorbed(t *testing.T) {
	h, client := newTestHandler(t, nil)
	client.postErr = func(int) error { return errors.New("not_in_channel") }

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "!vote"))
	require.NoError(t, err)
	assert.Equal(t, BodyOK, resp.Body)
	assert.Len(t, client.posts, 2, "validation notice then the best-effort error notice")
}

func TestHandle_ReactionFailureDoesNotStopOthers(t *testing.T) {
	h, client := newTestHandler(t, nil)
	client.reactionErr = func(name string) error {
		if name == "two" {
			return errors.New("invalid_name")
		}
		return nil
	}

	resp, err := h.Handle(context.Background(), http.Header{}, messagePayload("message", "U1", "!vote a, b, c"))
	require.NoError(t, err)
	assert.Equal(t, BodyOK, resp.Body)
	require.Len(t, client.reactions, 3)
	assert.Equal(t, "three", client.reactions[2].Name)
	assert.Len(t, client.posts, 1, "reaction failures are not reported to the channel")
}

func TestHandle_RateLimitedPolls(t *testing.T) {
	h, client := newTestHandler(t, nil)
	h.SetRateLimiter(NewRateLimiter(1, 0, 0))
	payload := messagePayload("message", "U1", "!vote a, b")

	resp, err := h.Handle(context.Background(), http.Header{}, payload)
	require.NoError(t, err)
	require.Equal(t, BodyOK, resp.Body)

	resp, err = h.Handle(context.Background(), http.Header{}, payload)
	require.NoError(t, err)
	assert.Equal(t, BodyRateLimited, resp.Body)
	assert.Len(t, client.posts, 1)
}

func TestHandle_MalformedPayload(t *testing.T) {
	h, client := newTestHandler(t, nil)

	_, err := h.Handle(context.Background(), http.Header{}, []byte(`{not json`))
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = h.Handle(context.Background(), http.Header{}, []byte(`{"type":"event_callback","event":"oops"}`))
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Zero(t, client.calls())
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHandler(nil, &config.SlackConfig{}, nil)
	require.Error(t, err)

	_, err = NewHandler(&fakeSlackClient{}, nil, nil)
	require.Error(t, err)
}

func signedRequest(t *testing.T, secret string, body []byte, ts time.Time) *http.Request {
	t.Helper()
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, err := mac.Write([]byte("v0:" + timestamp + ":" + string(body)))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestServeHTTP(t *testing.T) {
	t.Run("writes plain text body", func(t *testing.T) {
		h, _ := newTestHandler(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{"type":"url_verification","challenge":"abc123"}`))
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "abc123", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	})

	t.Run("malformed json is a bad request", func(t *testing.T) {
		h, _ := newTestHandler(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`nope`))
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("accepts valid signature", func(t *testing.T) {
		h, client := newTestHandler(t, &config.SlackConfig{BotToken: "xoxb-test", SigningSecret: "s3cret"})
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, signedRequest(t, "s3cret", messagePayload("message", "U1", "!vote a"), time.Now()))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, BodyOK, rec.Body.String())
		assert.Len(t, client.posts, 1)
	})

	t.Run("rejects bad signature", func(t *testing.T) {
		h, client := newTestHandler(t, &config.SlackConfig{BotToken: "xoxb-test", SigningSecret: "s3cret"})
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, signedRequest(t, "wrong", messagePayload("message", "U1", "!vote a"), time.Now()))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, client.calls())
	})

	t.Run("rejects unsigned request when secret configured", func(t *testing.T) {
		h, _ := newTestHandler(t, &config.SlackConfig{BotToken: "xoxb-test", SigningSecret: "s3cret"})
		req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{"type":"url_verification","challenge":"x"}`))
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &LogReporter{Logger: log.New(&buf, "", 0)}

	r.Report(errors.New("boom"), map[string]string{"ts": "1.2", "channel": "C1"})

	assert.Equal(t, "event=error_report channel=C1 ts=1.2 err=boom\n", buf.String())
}
