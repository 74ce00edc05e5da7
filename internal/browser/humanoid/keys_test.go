// FILE: ./internal/browser/humanoid/keys_test.go
package humanoid

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

func setupTypingDriver(t *testing.T, seed int64) (*Driver, *mockBackend) {
	mock := newMockBackend(t)
	d := NewTest(mock, seed)
	// deterministic key counts unless a test opts back in
	d.prof.typoRate = 0
	return d, mock
}

// replayKeys applies the sent key stream the way a text input would,
// so tests can assert on the field's final value.
func replayKeys(keys []string) string {
	var b []rune
	for _, k := range keys {
		if k == string(KeyBackspace) {
			if len(b) > 0 {
				b = b[:len(b)-1]
			}
			continue
		}
		b = append(b, []rune(k)...)
	}
	return string(b)
}

func TestType_SendsEveryRune(t *testing.T) {
	d, mock := setupTypingDriver(t, 42)

	err := d.Type(context.Background(), "#input", "hello world")
	require.NoError(t, err)

	keys := mock.sentKeys()
	require.Len(t, keys, len("hello world"))
	assert.Equal(t, "h", keys[0])
	assert.Equal(t, "d", keys[len(keys)-1])

	// focus click happened before any key
	events := mock.mouseEvents()
	var clicked bool
	for _, ev := range events {
		if ev.Type == schemas.MousePress {
			clicked = true
		}
	}
	assert.True(t, clicked, "Type should click to focus first")
}

func TestType_TypoRepairPreservesFinalText(t *testing.T) {
	// heavy typo rate so every seed exercises the repair path
	for _, seed := range []int64{1, 2, 3, 11, 42, 99} {
		mock := newMockBackend(t)
		d := NewTest(mock, seed)
		d.prof.typoRate = 0.35

		text := "the quick brown fox jumps over the lazy dog"
		err := d.Type(context.Background(), "#input", text)
		require.NoError(t, err)

		assert.Equal(t, text, replayKeys(mock.sentKeys()),
			"seed %d: corrected stream must reconstruct the input", seed)
	}
}

func TestType_InjectsTyposAtHighRate(t *testing.T) {
	mock := newMockBackend(t)
	d := NewTest(mock, 7)
	d.prof.typoRate = 0.5

	err := d.Type(context.Background(), "#input", "information")
	require.NoError(t, err)

	// more keys than runes means at least one mistake plus repair
	assert.Greater(t, len(mock.sentKeys()), len("information"))
	assert.Contains(t, mock.sentKeys(), string(KeyBackspace))
}

func TestType_FocusFailurePropagates(t *testing.T) {
	d, mock := setupTypingDriver(t, 42)
	boom := errors.New("stale node")
	mock.MockElementGeometry = func(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
		return nil, boom
	}
	mock.MockRunScript = func(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
		return nil, errors.New("no element")
	}

	err := d.Type(context.Background(), "#input", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "focusing")
	assert.Empty(t, mock.sentKeys())
}

func TestType_KeyDispatchFailureSurfaces(t *testing.T) {
	d, mock := setupTypingDriver(t, 42)
	boom := errors.New("key dispatch failed")
	mock.MockSendKeys = func(ctx context.Context, keys string) error {
		_ = mock.DefaultSendKeys(ctx, keys)
		return boom
	}

	err := d.Type(context.Background(), "#input", "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.Len(t, mock.sentKeys(), 1)
	assert.Equal(t, "a", mock.sentKeys()[0])
}

func TestClear_SelectAllThenDelete(t *testing.T) {
	d, mock := setupTypingDriver(t, 42)

	err := d.Clear(context.Background(), "#input")
	require.NoError(t, err)

	chords := mock.sentChords()
	require.Len(t, chords, 1)
	assert.Equal(t, "a", chords[0].Key)
	assert.Equal(t, schemas.ModCtrl, chords[0].Modifiers)

	keys := mock.sentKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, string(KeyBackspace), keys[0])
}

func TestPressKey_SendsControlKey(t *testing.T) {
	d, mock := setupTypingDriver(t, 42)

	err := d.PressKey(context.Background(), KeyEnter)
	require.NoError(t, err)

	keys := mock.sentKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, "\r", keys[0])
}

func TestCadenceFactor_CommonPairsAreFaster(t *testing.T) {
	common := cadenceFactor("t", 'h')   // "th"
	uncommon := cadenceFactor("q", 'z') // "qz"
	assert.Less(t, common, uncommon)

	shifted := cadenceFactor("a", 'B')
	assert.Greater(t, shifted, 1.0)
}

func TestKeyGap_RespectsConfiguredBounds(t *testing.T) {
	d, _ := setupTypingDriver(t, 42)
	d.fatigue = 0

	min := d.prof.keyDelayMin
	// widest factor applied in this sample is 1.0 (plain lowercase pair)
	for i := 0; i < 100; i++ {
		gap := d.keyGap("x", 'q')
		assert.GreaterOrEqual(t, gap, min/2, "gap should not collapse below scaled minimum")
	}
}

func TestType_WordBoundariesSlowDown(t *testing.T) {
	d, mock := setupTypingDriver(t, 42)

	err := d.Type(context.Background(), "#input", strings.Repeat("ab ", 10))
	require.NoError(t, err)
	// sanity only: the stream completed and slept along the way
	assert.NotEmpty(t, mock.sleptDurations())
}
