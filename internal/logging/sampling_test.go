package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/councild/internal/config"
)

func sampledLogger(core zapcore.Core, cfg SamplingConfig) *Logger {
	return &Logger{zap: zap.New(newSampledCore(core, cfg)), config: NewDefaultConfig()}
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{Enabled: true}))
}

func TestSampling_EachLevelHasItsOwnBudget(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := sampledLogger(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
			zapcore.InfoLevel:  {Initial: 5, Thereafter: 0},
		},
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		logger.Debug(ctx, "presence refreshed")
		logger.Info(ctx, "activity recorded")
		logger.Warn(ctx, "send failed")
	}

	assert.Len(t, observed.FilterMessage("presence refreshed").All(), 2)
	assert.Len(t, observed.FilterMessage("activity recorded").All(), 5)
	assert.Len(t, observed.FilterMessage("send failed").All(), 20, "levels without a budget pass")
}

func TestSampling_ThereafterKeepsEveryNth(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := sampledLogger(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel: {Initial: 5, Thereafter: 5},
		},
	})

	for i := 0; i < 100; i++ {
		logger.Info(context.Background(), "field tick")
	}
	assert.Len(t, observed.FilterMessage("field tick").All(), 5+95/5)
}

func TestSampling_ErrorsNeverDropped(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := sampledLogger(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel:  {Initial: 1, Thereafter: 0},
			zapcore.ErrorLevel: {Initial: 1, Thereafter: 0},
		},
	})

	for i := 0; i < 50; i++ {
		logger.Error(context.Background(), "agent provider failed")
	}
	assert.Len(t, observed.FilterMessage("agent provider failed").All(), 50)
}

func TestSampling_ExemptComponents(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := sampledLogger(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel: {Initial: 1, Thereafter: 0},
		},
		Exempt: []string{"ceremony"},
	})
	ctx := context.Background()

	phases := logger.Named("ceremony").With(zap.String("instance", "dawn-1"))
	for i := 0; i < 10; i++ {
		phases.Info(ctx, "phase started")
		logger.Named("ceremony").Named("guide").Info(ctx, "guidance posted")
		logger.Named("ceremonyx").Info(ctx, "lookalike")
		logger.Named("field").Info(ctx, "field updated")
	}

	assert.Len(t, observed.FilterMessage("phase started").All(), 10)
	assert.Len(t, observed.FilterMessage("guidance posted").All(), 10)
	assert.Len(t, observed.FilterMessage("lookalike").All(), 1)
	assert.Len(t, observed.FilterMessage("field updated").All(), 1)
	assert.Equal(t, "dawn-1", observed.FilterMessage("phase started").All()[0].ContextMap()["instance"])
}
