package advisor_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/agentbazaar/internal/advisor"
	"github.com/kiranshivaraju/agentbazaar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Policy(t *testing.T) {
	q, n, err := advisor.New(config.AdvisorConfig{Provider: "policy", StaticScore: 0.5}, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "static", q.Name())
	assert.Equal(t, "policy", n.Name())
}

func TestNew_HTTP(t *testing.T) {
	q, n, err := advisor.New(config.AdvisorConfig{Provider: "http", BaseURL: "http://advisor:9000", Timeout: time.Second}, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "http", q.Name())
	assert.Equal(t, "http", n.Name())
}

func TestNew_Unknown(t *testing.T) {
	_, _, err := advisor.New(config.AdvisorConfig{Provider: "oracle"}, 0.7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown advisor provider")
	assert.Contains(t, err.Error(), "oracle")
}
