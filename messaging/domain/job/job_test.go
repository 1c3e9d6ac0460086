package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Helpers(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsRunning(), s)
	}
	for _, s := range []Status{StatusSending, StatusExecuting} {
		assert.True(t, s.IsRunning(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusScheduled.IsRunning())
}

func TestJob_KindStatuses(t *testing.T) {
	campaign := Job{Kind: KindCampaign}
	assert.Equal(t, StatusPending, campaign.InitialStatus())
	assert.Equal(t, StatusSending, campaign.RunningStatus())

	scheduled := Job{Kind: KindScheduled}
	assert.Equal(t, StatusScheduled, scheduled.InitialStatus())
	assert.Equal(t, StatusExecuting, scheduled.RunningStatus())
}

func TestJob_Progress(t *testing.T) {
	j := Job{
		ID:          "j1",
		Kind:        KindCampaign,
		Status:      StatusSending,
		Recipients:  []Recipient{{Address: "1"}, {Address: "2"}, {Address: "3"}},
		SentCount:   2,
		FailedCount: 1,
	}

	p := j.Progress()
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 2, p.SentCount)
	assert.Equal(t, 1, p.FailedCount)
	assert.Equal(t, StatusSending, p.Status)
}
