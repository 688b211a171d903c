package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailEventIDDeterministic(t *testing.T) {
	ev := TrailEvent{
		RequirementID: "R1",
		Seq:           3,
		Stage:         StageVerifyEmpty,
		Artifact:      "lemma L(m: int)\n  ensures m >= 0\n{\n}",
		Error:         "postcondition might not hold",
		ErrorKind:     KindVerification,
	}

	a, err := TrailEventID("run-1", ev)
	require.NoError(t, err)
	b, err := TrailEventID("run-1", ev)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestTrailEventIDSensitiveToContent(t *testing.T) {
	base := TrailEvent{RequirementID: "R1", Seq: 1, Stage: StageFormalize, OK: true}

	changed := []TrailEvent{
		{RequirementID: "R2", Seq: 1, Stage: StageFormalize, OK: true},
		{RequirementID: "R1", Seq: 2, Stage: StageFormalize, OK: true},
		{RequirementID: "R1", Seq: 1, Stage: StageTypeCheck, OK: true},
		{RequirementID: "R1", Seq: 1, Stage: StageFormalize, OK: false},
	}

	baseID := MustTrailEventID("run-1", base)
	assert.NotEqual(t, baseID, MustTrailEventID("run-2", base), "run id must be part of identity")
	for _, ev := range changed {
		assert.NotEqual(t, baseID, MustTrailEventID("run-1", ev))
	}
}

func TestLemmaHashIgnoresUnsoundAndNilRequires(t *testing.T) {
	a := Signature{RequirementID: "R1", Name: "L", Params: "m: int", Ensures: "m >= 0"}
	b := a
	b.Requires = []string{}
	b.Unsound = "assume statement"

	assert.Equal(t, LemmaHash(a), LemmaHash(b))

	c := a
	c.Ensures = "m > 0"
	assert.NotEqual(t, LemmaHash(a), LemmaHash(c))
}
