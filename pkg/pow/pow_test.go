package pow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyKnownVector(t *testing.T) {
	const nonce = "dfe041b4f60cb54d082e542b109e392a"
	assert.True(t, Verify(nonce, 22, 9642966))
}

func TestVerifyRejectsWrongSolution(t *testing.T) {
	const nonce = "dfe041b4f60cb54d082e542b109e392a"
	assert.False(t, Verify(nonce, 22, 9642965))
}

func TestSolveProducesAVerifiableSolution(t *testing.T) {
	solution, err := Solve("solve-me", 12)
	require.NoError(t, err)
	assert.True(t, Verify("solve-me", 12, solution))
}

func TestDifficultyZeroAlwaysSatisfied(t *testing.T) {
	assert.True(t, Verify("anything", 0, 0))
}
