package chat

import (
	"expvar"
	"strconv"
	"strings"

	"github.com/samsaffron/llm-relay/internal/segment"
)

// turnStats is published on /debug/vars of the pprof listener.
var turnStats = expvar.NewMap("chat_turns")

func recordTurnStats(sum segment.Summary, err error, status int) {
	turnStats.Add("total", 1)
	turnStats.Add("segments", int64(sum.Segments))
	if sum.Segments > 1 {
		turnStats.Add("continued", 1)
	}
	if err != nil {
		turnStats.Add("failed", 1)
	}
	turnStats.Add("status_"+strconv.Itoa(status), 1)
	if sum.Provider != "" {
		turnStats.Add("provider_"+strings.ToLower(sum.Provider), 1)
	}
}
