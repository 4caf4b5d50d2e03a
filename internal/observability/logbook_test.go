// File: internal/observability/logbook_test.go
package observability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogBook_AppendOrder(t *testing.T) {
	b := NewLogBook(0)
	first := b.Append("one", StyleQuiet)
	second := b.Append("two", StyleSuccess)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(2), b.LastSeq())

	since := b.Since(1)
	require.Len(t, since, 1)
	assert.Equal(t, "two", since[0].Text)
}

func TestLogBook_CapDropsOldest(t *testing.T) {
	b := NewLogBook(2)
	b.Append("a", Style{})
	b.Append("b", Style{})
	b.Append("c", Style{})

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Text)
	assert.Equal(t, "c", entries[1].Text)
}

func TestLogBook_ClearKeepsSequence(t *testing.T) {
	b := NewLogBook(0)
	b.Append("a", Style{})
	b.Clear()
	assert.Empty(t, b.Entries())

	e := b.Append("b", Style{})
	assert.Equal(t, uint64(2), e.Seq)
}

func TestLogBook_ConcurrentAppendsAreOrdered(t *testing.T) {
	b := NewLogBook(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Append("x", Style{})
		}()
	}
	wg.Wait()

	entries := b.Entries()
	require.Len(t, entries, 50)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestBookCore_WithCarriesStyle(t *testing.T) {
	b := NewLogBook(0)
	logger := zap.New(b.Core(zapcore.DebugLevel)).With(Styled(StyleQuiet))

	logger.Info("inherits")
	logger.Info("overrides", Styled(StyleSuccess))

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, StyleQuiet, entries[0].Style)
	assert.Equal(t, StyleSuccess, entries[1].Style)
}
