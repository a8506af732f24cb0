package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	t.Parallel()
	s, err := NewSealer(strings.Repeat("ab", 32))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("li_at=secret"))
	require.NoError(t, err)
	again, err := s.Seal([]byte("li_at=secret"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces differ")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "li_at=secret", string(plain))
}

func TestSealer_RejectsTampering(t *testing.T) {
	t.Parallel()
	s, err := NewEphemeralSealer()
	require.NoError(t, err)
	other, err := NewEphemeralSealer()
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrUnseal)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Open(sealed)
	require.ErrorIs(t, err, ErrUnseal)

	_, err = s.Open([]byte("short"))
	require.ErrorIs(t, err, ErrUnseal)
}

func TestNewSealer_BadKey(t *testing.T) {
	t.Parallel()
	_, err := NewSealer("zz")
	require.Error(t, err)
	_, err = NewSealer("abcd")
	require.Error(t, err)
}

func TestKeyedMutex(t *testing.T) {
	t.Parallel()
	m := newKeyedMutex()

	unlock := m.Lock("s1")
	acquired := make(chan struct{})
	go func() {
		release := m.Lock("s1")
		close(acquired)
		release()
	}()

	other := m.Lock("s2")
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired s1 early")
	default:
	}
	unlock()
	<-acquired
}
