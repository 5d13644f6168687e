package keys

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectVersionDeterminism(t *testing.T) {
	triples := [][3]int64{
		{1, 1, 1},
		{41347, 5, 1},
		{12, 345, 6},
		{9999999, 1, 200},
	}
	for _, tr := range triples {
		k1 := ObjectVersion(tr[0], tr[1], tr[2])
		k2 := ObjectVersion(tr[0], tr[1], tr[2])
		assert.Equal(t, k1, k2, "ObjectVersion must be deterministic")
	}

	seen := make(map[string][3]int64)
	for _, tr := range triples {
		k := ObjectVersion(tr[0], tr[1], tr[2])
		if prev, ok := seen[k]; ok {
			t.Fatalf("key collision %q for %v and %v", k, prev, tr)
		}
		seen[k] = tr
	}
}

func TestObjectVersionDiffersPerComponent(t *testing.T) {
	base := ObjectVersion(1, 2, 3)
	assert.NotEqual(t, base, ObjectVersion(9, 2, 3))
	assert.NotEqual(t, base, ObjectVersion(1, 9, 3))
	assert.NotEqual(t, base, ObjectVersion(1, 2, 9))
	// Concatenation ambiguity: 1:23:4 vs 12:3:4
	assert.NotEqual(t, ObjectVersion(1, 23, 4), ObjectVersion(12, 3, 4))
}

func TestKeyFormats(t *testing.T) {
	assert.Equal(t, "41347", Container(41347))
	assert.Equal(t, "41347:5", Object(41347, 5))
	assert.Equal(t, "41347:5:1", ObjectVersion(41347, 5, 1))
	assert.NotContains(t, ObjectVersion(41347, 5, 1), "/")
}

func TestMethodVersionUnknownFallback(t *testing.T) {
	assert.Equal(t, "narrative:UNKNOWN:UNKNOWN", MethodVersion("narrative", "", ""))
	assert.Equal(t, "UNKNOWN:abc123:run", MethodVersion("", "abc123", "run"))
	assert.Equal(t, "narrative:3.10.0:run", MethodVersion("narrative", "3.10.0", "run"))
}

func TestNormalizeComposesNFC(t *testing.T) {
	decomposed := "jose\u0301"
	composed := "jos\u00e9"
	assert.Equal(t, User(composed), User(decomposed))
}

func TestParseRoundTrip(t *testing.T) {
	ref, err := Parse(ObjectVersion(41347, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, Ref{WorkspaceID: 41347, ObjectID: 5, Version: 1}, ref)
	assert.Equal(t, "41347/5/1", ref.UPA())
}

func TestFromUPA(t *testing.T) {
	k, err := FromUPA("1/2/3")
	require.NoError(t, err)
	assert.Equal(t, "1:2:3", k)

	for _, bad := range []string{"", "1/2", "1/2/3/4", "a/2/3", "1/-2/3", "1:2:3", "0/1/1"} {
		_, err := FromUPA(bad)
		assert.True(t, errors.Is(err, ErrMalformedRef), "expected malformed for %q", bad)
	}
}

func TestEdgeKey(t *testing.T) {
	k1 := Edge("wsfull_version_of", "wsfull_object_version/1:2:3", "wsfull_object/1:2")
	k2 := Edge("wsfull_version_of", "wsfull_object_version/1:2:3", "wsfull_object/1:2")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64, "SHA-256 hex is 64 characters")

	swapped := Edge("wsfull_version_of", "wsfull_object/1:2", "wsfull_object_version/1:2:3")
	assert.NotEqual(t, k1, swapped, "edge keys are directional")

	other := Edge("wsfull_refers_to", "wsfull_object_version/1:2:3", "wsfull_object/1:2")
	assert.NotEqual(t, k1, other, "edge keys depend on collection")
}
