package deferq_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/romshark/deferq"
	"github.com/romshark/deferq/internal/mock"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// StartLoop runs l in a new goroutine and returns a function
// that stops the loop and returns the error returned by Run.
func StartLoop(t *testing.T, l *deferq.Loop) (stop func() error) {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	var once sync.Once
	var err error
	stop = func() error {
		once.Do(func() {
			cancel()
			err = <-errc
		})
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func Receive(t *testing.T, c <-chan string, n int) []string {
	t.Helper()
	var actual []string
	for i := 0; i < n; i++ {
		select {
		case s := <-c:
			actual = append(actual, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after receiving %v", actual)
		}
	}
	return actual
}

func TestLoopExecutesInOrder(t *testing.T) {
	l := deferq.NewLoop(deferq.New(0), zaptest.NewLogger(t))
	stop := StartLoop(t, l)

	executed := make(chan string, 3)
	base := l.Now()
	l.RegisterAbs(base.Add(30*time.Millisecond), func() { executed <- "C" })
	l.RegisterAbs(base.Add(10*time.Millisecond), func() { executed <- "A" })
	l.RegisterAbs(base.Add(20*time.Millisecond), func() { executed <- "B" })

	require.Equal(t, []string{"A", "B", "C"}, Receive(t, executed, 3))
	require.Zero(t, l.Len())
	require.ErrorIs(t, stop(), context.Canceled)
}

func TestLoopCancel(t *testing.T) {
	l := deferq.NewLoop(deferq.New(0), nil)
	stop := StartLoop(t, l)

	executed := make(chan string, 2)
	cancel := l.Register(5*time.Millisecond, func() { executed <- "cancelled" })
	l.Register(20*time.Millisecond, func() { executed <- "A" })
	cancel()

	require.Equal(t, []string{"A"}, Receive(t, executed, 1))
	require.ErrorIs(t, stop(), context.Canceled)
	require.Empty(t, executed)
}

func TestLoopRecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	l := deferq.NewLoop(deferq.New(0), zap.New(core))
	stop := StartLoop(t, l)

	executed := make(chan string, 1)
	base := l.Now()
	l.RegisterAbs(base, func() { panic("boom") })
	l.RegisterAbs(base.Add(time.Millisecond), func() { executed <- "A" })

	require.Equal(t, []string{"A"}, Receive(t, executed, 1))
	require.ErrorIs(t, stop(), context.Canceled)

	entries := logs.FilterMessage("callback panicked").All()
	require.Len(t, entries, 1)
	require.Equal(t, "boom", entries[0].ContextMap()["panic"])
}

func TestLoopRegisterFromCallback(t *testing.T) {
	l := deferq.NewLoop(deferq.New(0), zaptest.NewLogger(t))
	stop := StartLoop(t, l)

	executed := make(chan string, 2)
	l.Register(0, func() {
		executed <- "A"
		l.Register(0, func() { executed <- "B" })
	})

	require.Equal(t, []string{"A", "B"}, Receive(t, executed, 2))
	require.ErrorIs(t, stop(), context.Canceled)
}

func TestLoopAdvanceTime(t *testing.T) {
	l := deferq.NewLoop(deferq.New(0), zaptest.NewLogger(t))
	stop := StartLoop(t, l)

	executed := make(chan string, 1)
	l.Register(time.Hour, func() { executed <- "A" })
	require.Equal(t, time.Hour, l.AdvanceTime(time.Hour))

	require.Equal(t, []string{"A"}, Receive(t, executed, 1))
	require.ErrorIs(t, stop(), context.Canceled)
}

func TestLoopAlreadyRunning(t *testing.T) {
	l := deferq.NewLoop(deferq.New(0), nil)
	stop := StartLoop(t, l)

	started := make(chan string, 1)
	l.Register(0, func() { started <- "started" })
	Receive(t, started, 1)

	require.ErrorIs(t, l.Run(context.Background()), deferq.ErrLoopRunning)
	require.ErrorIs(t, stop(), context.Canceled)
}

func TestLoopWaitsForTimer(t *testing.T) {
	mc := gomock.NewController(t)
	tm := mock.NewMockClock(mc)

	var lock sync.Mutex
	now := start
	tm.EXPECT().
		Now().
		DoAndReturn(func() time.Time {
			lock.Lock()
			defer lock.Unlock()
			return now
		}).
		AnyTimes()

	timer := mock.NewMockTimer(mc)
	timer.EXPECT().Stop().MinTimes(1).Return(true)

	// The loop may re-arm the timer
	// depending on when it observes the registration.
	timer.EXPECT().Reset(time.Hour).AnyTimes().Return(true)

	wakeups := make(chan func(), 1)
	tm.EXPECT().
		AfterFunc(time.Hour, gomock.Any()).
		DoAndReturn(func(_ time.Duration, fn func()) deferq.Timer {
			wakeups <- fn
			return timer
		}).
		Times(1)

	l := deferq.NewLoop(deferq.NewWith(0, tm, nil), zaptest.NewLogger(t))
	stop := StartLoop(t, l)

	executed := make(chan string, 1)
	l.Register(time.Hour, func() { executed <- "A" })

	var wake func()
	select {
	case wake = <-wakeups:
	case <-time.After(5 * time.Second):
		t.Fatal("timer wasn't armed")
	}
	require.Empty(t, executed)

	lock.Lock()
	now = start.Add(time.Hour)
	lock.Unlock()
	wake()

	require.Equal(t, []string{"A"}, Receive(t, executed, 1))
	require.ErrorIs(t, stop(), context.Canceled)
}
