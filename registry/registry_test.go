package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	reg := New()

	rctx, err := reg.Register("nursery", Settings{DSN: "postgres://localhost/test"})
	require.NoError(t, err)
	assert.Equal(t, "nursery", rctx.Name())
	assert.True(t, reg.Exists("nursery"))

	got, err := reg.Get("nursery")
	require.NoError(t, err)
	assert.Same(t, rctx, got)

	_, err = reg.Register("nursery", Settings{})
	assert.ErrorIs(t, err, ErrContextAlreadyExists)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownContext)
}

func TestReplace(t *testing.T) {
	reg := New()

	first, err := reg.Register("venue", Settings{})
	require.NoError(t, err)

	second, err := reg.Replace("venue", Settings{Timezone: "Europe/Zurich"})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "Europe/Zurich", second.Settings().Timezone)

	second.Lock()
	_, err = reg.Replace("venue", Settings{})
	assert.ErrorIs(t, err, ErrContextIsLocked)
}

func TestStopEmptiesRegistry(t *testing.T) {
	reg := New()
	_, err := reg.Register("venue", Settings{})
	require.NoError(t, err)

	reg.Stop()
	assert.False(t, reg.Exists("venue"))
}

func TestSettingsDefaults(t *testing.T) {
	reg := New()
	rctx, err := reg.Register("venue", Settings{})
	require.NoError(t, err)

	settings := rctx.Settings()
	assert.Equal(t, "UTC", settings.Timezone)
	assert.Equal(t, DefaultUUIDNamespace, settings.UUIDNamespace)
	assert.NotNil(t, settings.JSONMarshal)
	assert.NotNil(t, settings.JSONUnmarshal)
	assert.NotNil(t, settings.Logger)
}

func TestResourceIDIsStable(t *testing.T) {
	reg := New()
	a, err := reg.Register("ctx-a", Settings{})
	require.NoError(t, err)
	b, err := reg.Register("ctx-b", Settings{})
	require.NoError(t, err)

	assert.Equal(t, a.ResourceID("room"), a.ResourceID("room"))
	assert.NotEqual(t, a.ResourceID("room"), a.ResourceID("hall"))

	// same scheduler name on different contexts maps to different rows
	assert.NotEqual(t, a.ResourceID("room"), b.ResourceID("room"))
}

func TestDefaultEmailValidator(t *testing.T) {
	reg := New()
	rctx, err := reg.Register("venue", Settings{})
	require.NoError(t, err)

	assert.True(t, rctx.ValidateEmail("alice@example.org"))
	assert.False(t, rctx.ValidateEmail("not-an-email"))
	assert.False(t, rctx.ValidateEmail(""))
}

func TestDefaultRegistryIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestDataCodecDefaults(t *testing.T) {
	reg := New()
	rctx, err := reg.Register("venue", Settings{})
	require.NoError(t, err)

	blob, err := rctx.EncodeData(map[string]string{"note": "window seat"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"note":"window seat"}`, string(blob))

	decoded, err := rctx.DecodeReservationData(blob)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"note": "window seat"}, decoded)

	// empty blobs decode to nothing
	decoded, err = rctx.DecodeAllocationData(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestDataCodecCustomDecoders(t *testing.T) {
	type allocationMeta struct {
		Room string `json:"room"`
	}

	reg := New()
	rctx, err := reg.Register("venue", Settings{
		DecodeAllocationData: func(data []byte) (any, error) {
			var meta allocationMeta
			if err := json.Unmarshal(data, &meta); err != nil {
				return nil, err
			}
			return &meta, nil
		},
	})
	require.NoError(t, err)

	decoded, err := rctx.DecodeAllocationData([]byte(`{"room":"A12"}`))
	require.NoError(t, err)
	require.IsType(t, &allocationMeta{}, decoded)
	assert.Equal(t, "A12", decoded.(*allocationMeta).Room)

	// reservation blobs still fall back to the generic decoder
	decoded, err = rctx.DecodeReservationData([]byte(`{"room":"A12"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"room": "A12"}, decoded)
}
