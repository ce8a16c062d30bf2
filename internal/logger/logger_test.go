package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNewNopDiscardsOutput(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info("hello")
		l.Debugf("count=%d", 3)
	})
}

func TestSetLevelFiltersBelowThreshold(t *testing.T) {
	l := New(zapcore.WarnLevel)
	assert.False(t, l.base.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.base.Core().Enabled(zapcore.WarnLevel))
	l.SetLevel(zapcore.DebugLevel)
	assert.True(t, l.base.Core().Enabled(zapcore.DebugLevel))
}

func TestNamedAndWithPreserveLevel(t *testing.T) {
	l := New(zapcore.ErrorLevel)
	child := l.Named("pager").With()
	assert.False(t, child.base.Core().Enabled(zapcore.InfoLevel))
}
