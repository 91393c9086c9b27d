package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotify(t *testing.T) {
	t.Cleanup(func() { SetNotifyImpl(nil) })

	Notify("ignored", "{}")

	var topics, payloads []string
	SetNotifyImpl(func(topic, payload string) {
		topics = append(topics, topic)
		payloads = append(payloads, payload)
	})

	Notify("job.started", `{"job_id":"a"}`)
	NotifyJSON("job.finished", map[string]string{"status": "completed"})
	NotifyJSON("bad", func() {})

	assert.Equal(t, []string{"job.started", "job.finished"}, topics)
	assert.JSONEq(t, `{"status":"completed"}`, payloads[1])
}
