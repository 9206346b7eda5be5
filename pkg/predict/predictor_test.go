package predict

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context, req []byte) (*Output, error)

func (f runnerFunc) Run(ctx context.Context, req []byte) (*Output, error) {
	return f(ctx, req)
}

func staticRunner(code int, stdout, stderr string) Runner {
	return runnerFunc(func(context.Context, []byte) (*Output, error) {
		return &Output{ExitCode: code, Stdout: []byte(stdout), Stderr: []byte(stderr)}, nil
	})
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	outcomes []string
}

func (o *recordingObserver) PredictionStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) PredictionFinished(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestPredict_Success(t *testing.T) {
	p := NewPredictor(staticRunner(0, `{"success":true,"creditScore":712.5,"defaultStatus":0,"defaultProbability":0.12}`, ""))
	res, err := p.Predict(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 712.5, res.CreditScore)
	assert.Equal(t, 0, res.DefaultStatus)
	assert.Equal(t, 0.12, res.DefaultProbability)
	assert.False(t, res.IsDefault())
}

func TestPredict_Failures(t *testing.T) {
	tests := []struct {
		name   string
		runner Runner
		kind   Kind
		check  func(t *testing.T, f *Failure)
	}{
		{
			name:   "non-zero exit without stderr",
			runner: staticRunner(1, "", ""),
			kind:   KindExitedNonZero,
			check: func(t *testing.T, f *Failure) {
				assert.Equal(t, 1, f.ExitCode)
				assert.Equal(t, "unknown error", f.Stderr)
			},
		},
		{
			name:   "non-zero exit with stderr",
			runner: staticRunner(2, `{"success":false}`, "boom\n"),
			kind:   KindExitedNonZero,
			check: func(t *testing.T, f *Failure) {
				assert.Equal(t, "boom", f.Stderr)
			},
		},
		{
			name:   "long stderr is cut in message",
			runner: staticRunner(1, "", strings.Repeat("x", 4*rawPreviewLimit)),
			kind:   KindExitedNonZero,
			check: func(t *testing.T, f *Failure) {
				assert.Len(t, f.Stderr, 4*rawPreviewLimit)
				assert.Less(t, len(f.Error()), 2*rawPreviewLimit)
				assert.True(t, strings.HasSuffix(f.Error(), "..."))
			},
		},
		{
			name:   "empty output",
			runner: staticRunner(0, " \n", ""),
			kind:   KindEmptyOutput,
		},
		{
			name:   "model error",
			runner: staticRunner(0, `{"success":false,"error":"model not loaded"}`, ""),
			kind:   KindModelError,
			check: func(t *testing.T, f *Failure) {
				assert.Equal(t, "model not loaded", f.Message)
			},
		},
		{
			name:   "malformed",
			runner: staticRunner(0, "not json", ""),
			kind:   KindMalformedOutput,
			check: func(t *testing.T, f *Failure) {
				assert.Equal(t, "not json", f.Raw)
			},
		},
		{
			name: "launch failed",
			runner: runnerFunc(func(context.Context, []byte) (*Output, error) {
				return nil, launchFailed(errors.New("executable file not found"))
			}),
			kind: KindLaunchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			p := NewPredictor(tt.runner, WithObserver(obs))
			res, err := p.Predict(context.Background(), testQuery())
			require.Error(t, err)
			assert.Nil(t, res)

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.kind, f.Kind)
			assert.NotEmpty(t, f.Error())
			if tt.check != nil {
				tt.check(t, f)
			}
			assert.Equal(t, []string{tt.kind.String()}, obs.outcomes)
		})
	}
}

func TestPredict_InvalidQueryNeverRuns(t *testing.T) {
	var calls int32
	p := NewPredictor(runnerFunc(func(context.Context, []byte) (*Output, error) {
		atomic.AddInt32(&calls, 1)
		return &Output{}, nil
	}))

	q := testQuery()
	q.Age = math.Inf(1)
	_, err := p.Predict(context.Background(), q)
	require.Error(t, err)
	assert.Equal(t, Kind(0), KindOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestPredict_MaxConcurrency(t *testing.T) {
	var active, peak int32
	r := runnerFunc(func(context.Context, []byte) (*Output, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &Output{Stdout: []byte(`{"success":true,"creditScore":1,"defaultStatus":0,"defaultProbability":0}`)}, nil
	})

	p := NewPredictor(r, WithMaxConcurrency(2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Predict(context.Background(), testQuery())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPredict_CancelledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	r := runnerFunc(func(context.Context, []byte) (*Output, error) {
		<-release
		return &Output{Stdout: []byte(`{"success":true,"creditScore":1,"defaultStatus":0,"defaultProbability":0}`)}, nil
	})
	p := NewPredictor(r, WithMaxConcurrency(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Predict(context.Background(), testQuery())
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Predict(ctx, testQuery())
	assert.True(t, IsKind(err, KindTimedOut), "got %v", err)

	close(release)
	<-done
}

func TestPredict_ProcessFixedResult(t *testing.T) {
	p := NewPredictor(newHelperRunner("fixed"))
	res, err := p.Predict(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, &Result{CreditScore: 712.5, DefaultStatus: 0, DefaultProbability: 0.12}, res)
}

func TestPredict_ProcessFailures(t *testing.T) {
	tests := map[string]Kind{
		"exit-silent": KindExitedNonZero,
		"model-error": KindModelError,
		"garbage":     KindMalformedOutput,
		"empty":       KindEmptyOutput,
	}
	for mode, kind := range tests {
		t.Run(mode, func(t *testing.T) {
			_, err := NewPredictor(newHelperRunner(mode)).Predict(context.Background(), testQuery())
			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, kind, f.Kind)
			switch kind {
			case KindExitedNonZero:
				assert.Equal(t, "unknown error", f.Stderr)
			case KindModelError:
				assert.Equal(t, "model not loaded", f.Message)
			case KindMalformedOutput:
				assert.Equal(t, "not json", f.Raw)
			}
		})
	}
}

func TestPredict_ConcurrentCallsAreIsolated(t *testing.T) {
	p := NewPredictor(newHelperRunner("echo"), WithMaxConcurrency(4))

	const calls = 12
	var wg sync.WaitGroup
	for i := 1; i <= calls; i++ {
		wg.Add(1)
		go func(age int) {
			defer wg.Done()
			q := testQuery()
			q.Age = float64(age)
			q.LoanRate = float64(age)
			q.HasMortgage = age%2 == 0

			res, err := p.Predict(context.Background(), q)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, float64(age*10), res.CreditScore)
			assert.InDelta(t, float64(age)/100, res.DefaultProbability, 1e-9)
			assert.Equal(t, age%2 == 0, res.IsDefault())
		}(i)
	}
	wg.Wait()
}
