package diagnostics

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// StreamReporter returns a sink that writes "<sender>[<level>]: <message>"
// lines, info and important to out, warning and error to errOut. Writes
// are serialized so interleaved publishers produce whole lines.
func StreamReporter(out, errOut io.Writer) SinkFunc {
	var mu sync.Mutex
	return func(senderName string, level int, message string) {
		w := out
		if level >= LevelWarning {
			w = errOut
		}
		mu.Lock()
		fmt.Fprintf(w, "%s[%d]: %s\n", senderName, level, message)
		mu.Unlock()
	}
}

// ZapReporter returns a sink that mirrors diagnostics into a zap logger.
func ZapReporter(log *zap.SugaredLogger) SinkFunc {
	return func(senderName string, level int, message string) {
		switch {
		case level >= LevelError:
			log.Errorw(message, "sender", senderName, "level", level)
		case level >= LevelWarning:
			log.Warnw(message, "sender", senderName, "level", level)
		default:
			log.Infow(message, "sender", senderName, "level", level)
		}
	}
}
