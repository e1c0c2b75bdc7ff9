package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultVerifies(t *testing.T) {
	require.NoError(t, Default().Verify())
}

func TestVerifyRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c Config) Config
		wantErr error
	}{
		{"elder size", func(c Config) Config { c.ElderSize = 0; return c }, ErrElderSizeTooLow},
		{"split threshold", func(c Config) Config { c.SplitThreshold = 0; return c }, ErrSplitThresholdLow},
		{"data copy count", func(c Config) Config { c.DataCopyCount = 0; return c }, ErrDataCopyCountLow},
		{"root dir", func(c Config) Config { c.RootDir = ""; return c }, ErrRootDirEmpty},
		{"capacity", func(c Config) Config { c.MaxCapacity = 0; return c }, ErrCapacityTooLow},
		{"threshold", func(c Config) Config { c.MinCapacityThreshold = 1.5; return c }, ErrThresholdRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(Default()).Verify()
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSupermajority(t *testing.T) {
	require.Equal(t, 2, Supermajority(1))
	require.Equal(t, 3, Supermajority(3))
	require.Equal(t, 6, Supermajority(7))
}
