package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	p := &NATSPublisher{prefix: "content"}
	assert.Equal(t, "content.workflow.phase.completed", p.Subject(PhaseCompleted))
}

func TestRecorderFiltersByType(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	assert.NoError(t, r.Publish(ctx, Event{Type: PhaseCompleted, WorkflowID: "w", Phase: 1}))
	assert.NoError(t, r.Publish(ctx, Event{Type: PhaseFailed, WorkflowID: "w", Phase: 2}))

	assert.Len(t, r.Events(""), 2)
	failed := r.Events(PhaseFailed)
	assert.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Phase)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: WorkflowApproved}))
	p.Close()
}
