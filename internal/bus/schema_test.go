package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDecode(t *testing.T) {
	s := MustSchema()
	evt, err := s.Decode([]byte(`{"wsid": 41347, "objid": 5, "ver": 1, "evtype": "NEW_VERSION", "time": 1554408999000, "user": "someuser"}`))
	require.NoError(t, err)
	assert.Equal(t, Event{
		WorkspaceID: 41347,
		ObjectID:    5,
		Version:     1,
		Type:        EventNewVersion,
		Time:        1554408999000,
		User:        "someuser",
	}, evt)
}

func TestSchemaAcceptsNullsAndExtraFields(t *testing.T) {
	s := MustSchema()
	evt, err := s.Decode([]byte(`{"wsid": 7, "objid": null, "ver": null, "evtype": "SET_PERMISSION", "perm": "w", "permusers": ["a", "b"], "extra": {"x": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), evt.ObjectID)
	assert.Equal(t, []string{"a", "b"}, evt.PermUsers)
}

func TestSchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing wsid", raw: `{"objid": 5, "evtype": "NEW_VERSION"}`},
		{name: "missing evtype", raw: `{"wsid": 5, "objid": 5}`},
		{name: "empty evtype", raw: `{"wsid": 5, "evtype": ""}`},
		{name: "zero wsid", raw: `{"wsid": 0, "evtype": "IMPORT"}`},
		{name: "string wsid", raw: `{"wsid": "5", "evtype": "IMPORT"}`},
		{name: "negative version", raw: `{"wsid": 5, "objid": 1, "ver": -1, "evtype": "IMPORT"}`},
		{name: "not json", raw: `wsid=5`},
		{name: "array", raw: `[1,2]`},
	}
	s := MustSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
			var se *SchemaError
			assert.ErrorAs(t, err, &se)
		})
	}
}
