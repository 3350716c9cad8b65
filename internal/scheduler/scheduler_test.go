package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs++
	return j.err
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())

	err := s.AddJob("not a cron line", &countingJob{name: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Empty(t, s.Jobs())
}

func TestJobsListsRegistrationOrderAndSchedules(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.AddJob("0 0 10 * * 1-5", &countingJob{name: "sweep"}))
	require.NoError(t, s.AddJob("0 0 12 * * 1-5", &countingJob{name: "sweep"}))
	require.NoError(t, s.AddJob("0 30 2 * * *", &countingJob{name: "backup"}))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)

	assert.Equal(t, "sweep", jobs[0].Name)
	assert.Equal(t, []string{"0 0 10 * * 1-5", "0 0 12 * * 1-5"}, jobs[0].Schedules)
	assert.Nil(t, jobs[0].LastRun)
	assert.Empty(t, jobs[0].LastError)

	assert.Equal(t, "backup", jobs[1].Name)
	assert.Equal(t, []string{"0 30 2 * * *"}, jobs[1].Schedules)
}

func TestRunNowExecutesAndRecordsTheRun(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "snapshot"}
	require.NoError(t, s.AddJob("0 45 16 * * 1-5", job))

	require.NoError(t, s.RunNow("snapshot"))
	assert.Equal(t, 1, job.runs)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].LastRun)
	assert.Empty(t, jobs[0].LastError)
}

func TestRunNowRecordsFailures(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "refresh", err: errors.New("provider down")}
	require.NoError(t, s.AddJob("@hourly", job))

	err := s.RunNow("refresh")
	require.Error(t, err)
	assert.Equal(t, "provider down", err.Error())

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "provider down", jobs[0].LastError)
	require.NotNil(t, jobs[0].LastRun)

	// A later clean run clears the recorded error.
	job.err = nil
	require.NoError(t, s.RunNow("refresh"))
	assert.Empty(t, s.Jobs()[0].LastError)
}

func TestRunNowUnknownJob(t *testing.T) {
	s := New(zerolog.Nop())

	err := s.RunNow("nope")
	require.ErrorIs(t, err, ErrUnknownJob)
	assert.Contains(t, err.Error(), "nope")
}

func TestDefaultSchedulesParse(t *testing.T) {
	s := New(zerolog.Nop())

	schedules := []string{
		"CRON_TZ=America/New_York 0 0 10 * * 1-5",
		"CRON_TZ=America/New_York 0 0 12 * * 1-5",
		"CRON_TZ=America/New_York 0 0 14 * * 1-5",
		"CRON_TZ=America/New_York 0 30 15 * * 1-5",
		"0 0 * * * 1-5",
		"CRON_TZ=America/New_York 0 45 16 * * 1-5",
		"0 30 3 * * *",
		"0 30 2 * * *",
	}
	for _, schedule := range schedules {
		assert.NoError(t, s.AddJob(schedule, &countingJob{name: "probe"}), schedule)
	}
}
