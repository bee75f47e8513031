package handler

import (
	"bufio"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/benchlab/run-engine/internal/eventbus"
)

// sseWriter returns a fasthttp stream writer that frames every event on sub's
// channel as a server-sent event, flushing after each write so proxies don't
// buffer it, until a write or flush fails because the client disconnected.
func sseWriter(sub *eventbus.Subscription, logger zerolog.Logger) fasthttp.StreamWriter {
	return func(w *bufio.Writer) {
		defer sub.Close()

		for event := range sub.Events() {
			payload, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("failed to marshal sse event")
				continue
			}

			if _, err := w.WriteString("data: "); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.WriteString("\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}
