package startup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/startup"
)

type recorder struct {
	events []string
}

func (r *recorder) dep(name string, requires ...string) *startup.Dependency {
	return &startup.Dependency{
		Name:     name,
		Requires: requires,
		StartFunc: func(context.Context) error {
			r.events = append(r.events, "start:"+name)
			return nil
		},
		StopFunc: func(context.Context) error {
			r.events = append(r.events, "stop:"+name)
			return nil
		},
	}
}

func TestStartup_StartsInDependencyOrderAndStopsInReverse(t *testing.T) {
	rec := &recorder{}
	s := startup.NewStartup(zap.NewNop(), 1)
	s.AddDependency(rec.dep("http", "processor", "database"))
	s.AddDependency(rec.dep("processor", "redis"))
	s.AddDependency(rec.dep("database"))
	s.AddDependency(rec.dep("redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:redis", "start:processor", "start:database", "start:http"}, rec.events)

	rec.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop:http", "stop:database", "stop:processor", "stop:redis"}, rec.events)
	assert.Equal(t, startup.StartupStatusStopped, s.Status("redis"))
}

func TestStartup_RetriesFailedDependency(t *testing.T) {
	calls := 0
	s := startup.NewStartup(zap.NewNop(), 3).WithBackoffUnit(time.Millisecond)
	s.AddDependency(&startup.Dependency{
		Name: "database",
		StartFunc: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, startup.StartupStatusStarted, s.Status("database"))
}

func TestStartup_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	s := startup.NewStartup(zap.NewNop(), 2).WithBackoffUnit(time.Millisecond)
	s.AddDependency(&startup.Dependency{Name: "redis", StartFunc: func(context.Context) error { return boom }})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, startup.StartupStatusFailed, s.Status("redis"))
}

func TestStartup_UnknownAndCyclicDependencies(t *testing.T) {
	s := startup.NewStartup(zap.NewNop(), 1)
	s.AddDependency(&startup.Dependency{Name: "http", Requires: []string{"missing"}})
	assert.ErrorContains(t, s.Start(context.Background()), "unknown dependency")

	s = startup.NewStartup(zap.NewNop(), 1)
	s.AddDependency(&startup.Dependency{Name: "a", Requires: []string{"b"}})
	s.AddDependency(&startup.Dependency{Name: "b", Requires: []string{"a"}})
	assert.ErrorContains(t, s.Start(context.Background()), "dependency cycle")
}
