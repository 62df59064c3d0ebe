package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iuriikogan/magnet-loop/internal/types"
	"github.com/iuriikogan/magnet-loop/internal/utils"
)

var params = types.OptimizerParameters{Order: 9, Ell: 80, RBendMin: 20, T1: -8}

func TestSystem(t *testing.T) {
	plain, err := System(false)
	require.NoError(t, err)
	assert.Contains(t, plain, "[order, ell, rbendmin, t1]")
	assert.Contains(t, plain, "DONE")
	assert.NotContains(t, plain, "think tool")

	withTool, err := System(true)
	require.NoError(t, err)
	assert.True(t, len(withTool) > len(plain))
	assert.Contains(t, withTool, "think tool")
}

func TestInitial(t *testing.T) {
	prompt, err := Initial(params)
	require.NoError(t, err)
	assert.Contains(t, prompt, "[9, 80, 20, -8]")
}

func TestReprompt(t *testing.T) {
	prompt, err := Reprompt(params, []string{"3a", "3b", "3c"}, 2)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Iteration 2")
	assert.Contains(t, prompt, "images 3a, 3b, 3c")

	// The answer-format hint must not look like a parameter tuple.
	tuples := utils.FindParameterTuples(prompt)
	require.Len(t, tuples, 1)
	assert.Equal(t, params, tuples[0])
}
