package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proofpipe/internal/verifier"
)

const twoLemmas = `include "/work/bank.dfy"

lemma A(m: Model)
  ensures m.balance >= 0
{
}

lemma B(m: Model)
  ensures m.balance > 100
{
}
`

const lemmaA = `lemma A(m: Model)
  ensures m.balance >= 0
{
}
`

func TestScriptedVerifier_DefaultVerdicts(t *testing.T) {
	v := NewScriptedVerifier()
	ctx := context.Background()

	res, err := v.TypeCheck(ctx, lemmaA)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = v.Verify(ctx, lemmaA, verifier.Options{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "candidate.dfy: Error: "+DefaultVerifyError, res.Output)
}

func TestScriptedVerifier_BatchOutputNamesNoLemma(t *testing.T) {
	v := NewScriptedVerifier(VerifierRule{Mode: verifier.ModeVerify, Lemma: "A", OK: true})

	res, err := v.Verify(context.Background(), twoLemmas, verifier.Options{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "Dafny program verifier finished with 1 verified, 1 errors", res.Output)
	assert.Equal(t, 1, v.BatchCalls(verifier.ModeVerify))
	assert.Equal(t, 0, v.CallsFor(verifier.ModeVerify, "A"))

	calls := v.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"A", "B"}, calls[0].Lemmas)
}

func TestScriptedVerifier_RuleMatching(t *testing.T) {
	v := NewScriptedVerifier(
		VerifierRule{BatchOnly: true, OK: false, Error: "batch only"},
		VerifierRule{Mode: verifier.ModeVerify, BodyContains: "m.balance >= 0", OK: true},
	)

	res, err := v.Verify(context.Background(), lemmaA, verifier.Options{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, v.CallsFor(verifier.ModeVerify, "A"))

	res, err = v.TypeCheck(context.Background(), twoLemmas)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestScriptedVerifier_WarningsUnderStrictMode(t *testing.T) {
	v := NewScriptedVerifier(VerifierRule{Lemma: "A", OK: true, Warnings: []string{"unused"}})
	ctx := context.Background()

	res, err := v.Verify(ctx, lemmaA, verifier.Options{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"candidate.dfy: Warning: unused"}, res.Warnings)

	res, err = v.Verify(ctx, lemmaA, verifier.Options{TreatWarningsAsErrors: true})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "candidate.dfy: Warning: unused", res.Output)
}

func TestScriptedVerifier_Transport(t *testing.T) {
	v := NewScriptedVerifier().AddRule(VerifierRule{Lemma: "B", Transport: "crashed"})

	_, err := v.Verify(context.Background(), twoLemmas, verifier.Options{})
	assert.EqualError(t, err, "scripted verify: crashed")
}
