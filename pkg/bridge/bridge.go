package bridge

import "encoding/json"

// NotifyFunc delivers an event to whatever embeds the engine (CLI, host app).
type NotifyFunc func(topic string, payload string)

var impl NotifyFunc

// SetNotifyImpl installs the process-wide event sink. nil disables notifications.
func SetNotifyImpl(f NotifyFunc) {
	impl = f
}

// Notify sends a raw payload to the installed sink.
func Notify(topic string, payload string) {
	if impl != nil {
		impl(topic, payload)
	}
}

// NotifyJSON encodes v and sends it. Encoding errors drop the event.
func NotifyJSON(topic string, v any) {
	if impl == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	impl(topic, string(data))
}
