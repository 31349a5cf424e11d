package pregel

// StreamMode selects which event kinds a Stream call yields.
type StreamMode string

const (
	StreamValues         StreamMode = "values"
	StreamUpdates        StreamMode = "updates"
	StreamMessages       StreamMode = "messages"
	StreamMessagesTuple  StreamMode = "messages-tuple"
	StreamCustom         StreamMode = "custom"
	StreamCheckpoints    StreamMode = "checkpoints"
	StreamTasks          StreamMode = "tasks"
	StreamDebug          StreamMode = "debug"
	StreamError          StreamMode = "error"
)

func hasMode(modes []StreamMode, mode StreamMode) bool {
	if len(modes) == 0 {
		return true
	}
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}
