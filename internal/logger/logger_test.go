package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"WARN":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"unknown": logrus.InfoLevel,
		"":        logrus.InfoLevel,
	}
	for in, want := range cases {
		l := New(Config{Level: in, Output: "discard"})
		assert.Equal(t, want, l.log.GetLevel(), in)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	l := New(Config{Format: "json", Output: "discard"})
	_, ok := l.log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l := New(Config{Output: path, MaxSize: 1})
	l.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestFieldHelpers(t *testing.T) {
	l := Discard()
	hook := test.NewLocal(l.log)

	l.WithComponent("engine").Info("a")
	l.WithOperationID("op-1").Info("b")
	l.WithOrderID("ord-1").Info("c")

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "engine", entries[0].Data["component"])
	assert.Equal(t, "op-1", entries[1].Data["operation_id"])
	assert.Equal(t, "ord-1", entries[2].Data["order_id"])
}
