package slackbot

import (
	"log"
	"sort"
	"strings"
)

// ErrorReporter receives failures caught by the poll error boundary
type ErrorReporter interface {
	Report(err error, context map[string]string)
}

type noopReporter struct{}

func (n *noopReporter) Report(err error, context map[string]string) {}

// LogReporter writes reported errors to a logger in key=value form
type LogReporter struct {
	Logger *log.Logger
}

func (r *LogReporter) Report(err error, context map[string]string) {
	if r == nil || r.Logger == nil || err == nil {
		return
	}
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(context[k])
	}
	r.Logger.Printf("event=error_report%s err=%v", sb.String(), err)
}
