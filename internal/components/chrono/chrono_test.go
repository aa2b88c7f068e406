package chrono

import (
	"errors"
	"regreport/internal/components/telemetry"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDay(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{
			in:   time.Date(2026, time.January, 15, 23, 59, 0, 0, time.UTC),
			want: time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			// the calendar day of the value's own location is kept
			in:   time.Date(2026, time.January, 16, 0, 30, 0, 0, kolkata),
			want: time.Date(2026, time.January, 16, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Day(c.in))
	}
}

func TestYesterday(t *testing.T) {
	clock := FixedImpl{At: time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)}
	require.Equal(t, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC), Yesterday(clock))
}

func TestStandardImpl(t *testing.T) {
	clock, err := NewStandardImpl("Asia/Kolkata")
	require.NoError(t, err)
	require.Equal(t, "Asia/Kolkata", clock.Location().String())
	require.Equal(t, clock.Location(), clock.Now().Location())

	_, err = NewStandardImpl("Mars/Olympus_Mons")
	require.Error(t, err)
}

func TestCronLogger(t *testing.T) {
	rec := telemetry.NewRecorder()
	logger := cronLogger{tel: rec}

	logger.Info("schedule", "entry", 1, "next", "tomorrow")
	logger.Error(errors.New("boom"), "job panicked", "entry", 1)

	debug := rec.Find("debug", "cron: schedule")
	require.Len(t, debug, 1)
	require.Equal(t, []any{"entry: 1", "next: tomorrow"}, debug[0].Params)

	broken := rec.Find("broken", "cron")
	require.Len(t, broken, 1)
	require.ErrorContains(t, broken[0].Params[0].(error), "job panicked: boom")
}

func TestStandardCronRejectsBadSpec(t *testing.T) {
	cron := NewStandardCron(FixedImpl{At: time.Now()}, telemetry.NewRecorder())
	defer cron.Stop()

	_, err := cron.Cron("every day please", func() {})
	require.Error(t, err)
	_, err = cron.Cron("0 9 * * *", func() {})
	require.NoError(t, err)
}

func TestStandardCronRunNowIsSerialized(t *testing.T) {
	cron := NewStandardCron(FixedImpl{At: time.Now()}, telemetry.NewRecorder())
	defer cron.Stop()

	var runs atomic.Int32
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	runNow, err := cron.Cron("0 9 * * *", func() {
		runs.Add(1)
		entered <- struct{}{}
		<-release
	})
	require.NoError(t, err)

	finished := make(chan struct{})
	go func() {
		runNow()
		close(finished)
	}()
	<-entered

	// a second activation while the first is running is skipped
	runNow()
	close(release)
	<-finished
	require.Equal(t, int32(1), runs.Load())

	go runNow()
	<-entered
	require.Equal(t, int32(2), runs.Load())
}
