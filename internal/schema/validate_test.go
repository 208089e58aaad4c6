package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	s := Normalize(parse(t, protocolSchema))

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "valid",
			doc:  `{"paper_type":"primary","year":2021,"parameters":[{"name":"PRF","value":1.5}],"target":{"name":"V1"}}`,
		},
		{
			name: "null alternative",
			doc:  `{"paper_type":"review","parameters":[],"target":null}`,
		},
		{
			name:    "not json",
			doc:     `{"paper_type":`,
			wantErr: "not valid JSON",
		},
		{
			name:    "root not object",
			doc:     `[1]`,
			wantErr: "$: expected object, got array",
		},
		{
			name:    "missing required",
			doc:     `{"paper_type":"primary"}`,
			wantErr: `$: missing required key "parameters"`,
		},
		{
			name:    "enum violation",
			doc:     `{"paper_type":"opinion","parameters":[]}`,
			wantErr: "$.paper_type: value \"opinion\" not in enum",
		},
		{
			name:    "integer violation",
			doc:     `{"paper_type":"primary","year":20.5,"parameters":[]}`,
			wantErr: "$.year: expected integer, got number",
		},
		{
			name:    "nested item",
			doc:     `{"paper_type":"primary","parameters":[{"name":"a","value":1},{"name":2,"value":1}]}`,
			wantErr: "$.parameters[1].name: expected string, got number",
		},
		{
			name:    "anyOf via ref",
			doc:     `{"paper_type":"primary","parameters":[],"target":{"name":7}}`,
			wantErr: "$.target: matches no anyOf alternative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(s, []byte(tt.doc))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AllOf(t *testing.T) {
	s := parse(t, `{"allOf":[{"type":"object","required":["a"]},{"required":["b"]}]}`)
	assert.NoError(t, Validate(s, []byte(`{"a":1,"b":2}`)))
	assert.ErrorContains(t, Validate(s, []byte(`{"a":1}`)), `missing required key "b"`)
}

func TestValidate_RecursiveRef(t *testing.T) {
	s := parse(t, `{"$ref":"#/$defs/node","$defs":{"node":{"type":"object","properties":{"child":{"$ref":"#/$defs/node"},"v":{"type":"boolean"}}}}}`)
	assert.NoError(t, Validate(s, []byte(`{"v":true,"child":{"child":{"v":false}}}`)))
	assert.ErrorContains(t, Validate(s, []byte(`{"child":{"v":"yes"}}`)), "$.child.v: expected boolean, got string")
}

func TestValidate_EnumKinds(t *testing.T) {
	s := parse(t, `{"enum":[1, true, "x"]}`)
	for _, ok := range []string{`1`, `true`, `"x"`} {
		assert.NoError(t, Validate(s, []byte(ok)), ok)
	}
	for _, bad := range []string{`2`, `false`, `"y"`, `null`} {
		assert.Error(t, Validate(s, []byte(bad)), bad)
	}
}
