package cmd

import (
	"net/http"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	appcfg "github.com/ca-srg/slackvote/internal/config"
)

// newSlackClient builds a Web API client using the bot token as bearer credential
func newSlackClient(scfg *appcfg.SlackConfig) *slack.Client {
	opts := []slack.Option{
		slack.OptionHTTPClient(&http.Client{
			Timeout:   scfg.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	}
	if scfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(scfg.APIURL))
	}
	return slack.New(scfg.BotToken, opts...)
}
