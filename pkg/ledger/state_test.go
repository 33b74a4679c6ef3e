package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveState(t *testing.T) {
	tests := []struct {
		name string
		m    Markers
		want State
	}{
		{"no markers", Markers{}, StateQueued},
		{"started only", Markers{Started: true}, StateRunning},
		{"lock only", Markers{Lock: true}, StateRunning},
		{"started and lock", Markers{Started: true, Lock: true}, StateRunning},
		{"finished", Markers{Finished: true}, StateFinished},
		{"finished and error", Markers{Finished: true, Error: true}, StateFinished},
		{"finished while locked", Markers{Finished: true, Lock: true, Started: true}, StateFinished},
		{"error unlocked", Markers{Error: true, Started: true}, StateErrored},
		{"error without started", Markers{Error: true}, StateErrored},
		{"error while locked", Markers{Error: true, Lock: true}, StateRunning},
		{"abort alone does not finish", Markers{Abort: true}, StateQueued},
		{"hide does not affect state", Markers{Hide: true, Started: true}, StateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveState(tt.m))
		})
	}
}

func TestResolveState_AllCombinations(t *testing.T) {
	// Every combination of the four activity markers resolves to exactly the
	// state the precedence table predicts.
	for bits := 0; bits < 16; bits++ {
		m := Markers{
			Lock:     bits&1 != 0,
			Started:  bits&2 != 0,
			Finished: bits&4 != 0,
			Error:    bits&8 != 0,
		}
		t.Run(fmt.Sprintf("%04b", bits), func(t *testing.T) {
			got := ResolveState(m)
			switch {
			case m.Finished:
				assert.Equal(t, StateFinished, got)
			case m.Error && !m.Lock:
				assert.Equal(t, StateErrored, got)
			case !m.Started && !m.Lock:
				assert.Equal(t, StateQueued, got)
			default:
				assert.Equal(t, StateRunning, got)
			}
		})
	}
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateFinished.Terminal())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateQueued.Terminal())
}

func TestMarkersHas(t *testing.T) {
	m := Markers{LaunchScript: true, Abort: true, DeleteWhenFinished: true}
	assert.True(t, m.Has(MarkerLaunchScript))
	assert.True(t, m.Has(MarkerAbort))
	assert.True(t, m.Has(MarkerDeleteWhenFinished))
	assert.False(t, m.Has(MarkerFinished))
	assert.False(t, m.Has(Marker("unknown")))
}
