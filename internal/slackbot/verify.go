package slackbot

import (
	"fmt"
	"net/http"

	"github.com/slack-go/slack"
)

// verifySignature checks X-Slack-Signature and X-Slack-Request-Timestamp against the signing secret
func verifySignature(header http.Header, body []byte, signingSecret string) error {
	sv, err := slack.NewSecretsVerifier(header, signingSecret)
	if err != nil {
		return fmt.Errorf("signature headers: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("signature digest: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("signature mismatch: %w", err)
	}
	return nil
}
