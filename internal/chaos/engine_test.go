package chaos

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestThresholdHolds(t *testing.T) {
	cases := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Threshold{Operator: tc.op, Value: 1}.Holds(tc.value), "%v %s 1", tc.value, tc.op)
	}
}

func TestRunRecordsRecovery(t *testing.T) {
	var value atomic.Int64
	var rolledBack atomic.Bool

	exp := Experiment{
		Name: "flap",
		SteadyState: []Metric{{
			Name:      "errors",
			Query:     func(context.Context) (float64, error) { return float64(value.Add(-1) + 1), nil },
			Threshold: Threshold{Operator: "<=", Value: 0},
		}},
		Method: []Action{{
			Target:  "counter",
			Execute: func(context.Context) error { value.Store(3); return nil },
		}},
		Rollback: []Action{{
			Target:  "counter",
			Execute: func(context.Context) error { rolledBack.Store(true); return nil },
		}},
		Validation: []Assertion{{
			Metric:    "errors",
			Condition: func(v float64) bool { return v <= 0 },
			Message:   "errors drain",
		}},
		Duration: 200 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	}

	engine := NewEngine(zap.NewNop())
	result, err := engine.Run(context.Background(), exp)
	require.NoError(t, err)

	assert.True(t, result.SteadyStateValid)
	assert.True(t, result.HypothesisHeld)
	assert.True(t, rolledBack.Load())
	assert.NotEmpty(t, result.Violations)
	require.NotNil(t, result.MTTR)
	assert.Len(t, engine.Results(), 1)
}

func TestRunAbortsOnInvalidSteadyState(t *testing.T) {
	injected := false
	exp := Experiment{
		Name: "unhealthy",
		SteadyState: []Metric{{
			Name:      "broken",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("down") },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method:   []Action{{Execute: func(context.Context) error { injected = true; return nil }}},
		Duration: time.Second,
	}

	result, err := NewEngine(nil).Run(context.Background(), exp)
	assert.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	assert.False(t, injected)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, float64(-1), result.Violations[0].Actual)
}

func TestRunReportsFailedAssertionsAndActionErrors(t *testing.T) {
	exp := Experiment{
		Name: "failing",
		SteadyState: []Metric{{
			Name:      "constant",
			Query:     func(context.Context) (float64, error) { return 1, nil },
			Threshold: Threshold{Operator: "==", Value: 1},
		}},
		Method: []Action{{
			Target:  "db",
			Execute: func(context.Context) error { return errors.New("boom") },
		}},
		Validation: []Assertion{
			{Metric: "constant", Condition: func(v float64) bool { return v == 2 }, Message: "wants two"},
			{Metric: "missing", Condition: func(float64) bool { return true }, Message: "never observed"},
		},
		Duration: 50 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	}

	result, err := NewEngine(nil).Run(context.Background(), exp)
	require.NoError(t, err)
	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"wants two", "never observed"}, result.FailedAssertions)
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "db", result.ErrorEvents[0].Component)
}

func TestGameDaySkipsAbortedExperiments(t *testing.T) {
	ok := Experiment{
		Name: "ok",
		SteadyState: []Metric{{
			Name:      "m",
			Query:     func(context.Context) (float64, error) { return 0, nil },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Duration: 20 * time.Millisecond,
		Interval: 5 * time.Millisecond,
	}
	bad := ok
	bad.Name = "bad"
	bad.SteadyState = []Metric{{
		Name:      "m",
		Query:     func(context.Context) (float64, error) { return 1, nil },
		Threshold: Threshold{Operator: "==", Value: 0},
	}}

	engine := NewEngine(nil)
	engine.Register(ok, bad)
	results, err := engine.ExecuteGameDay(context.Background(), GameDay{Name: "test", Scenarios: engine.Experiments()})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Experiment)
}
