package metrics

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSamplerSelf(t *testing.T) {
	s := NewProcessSampler()
	u, err := s.Sample(int32(os.Getpid()))
	require.NoError(t, err)
	assert.Greater(t, u.MemoryRSS, uint64(0))
	assert.GreaterOrEqual(t, u.CPUPercent, 0.0)
	assert.GreaterOrEqual(t, u.MemoryTotal, u.MemoryRSS)

	s.Reset()
	_, err = s.Sample(int32(os.Getpid()))
	require.NoError(t, err)
}

func TestProcessSamplerUnknownPID(t *testing.T) {
	s := NewProcessSampler()
	_, err := s.Sample(1 << 30)
	assert.Error(t, err)
}
