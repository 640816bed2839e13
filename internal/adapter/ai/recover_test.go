package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

func TestRecoverObjectText(t *testing.T) {
	t.Parallel()

	want := `{"life_stage":"adult","adult_behaviors":["nectaring"],"larva_stage":"unknown"}`
	tests := []struct {
		name  string
		input string
	}{
		{"bare_object", want},
		{"surrounding_whitespace", "\n  " + want + "\n"},
		{
			"json_fence",
			"```json\n" + want + "\n```",
		},
		{
			"plain_fence",
			"```\n" + want + "\n```",
		},
		{
			"prose_then_fence_then_prose",
			"Here are the labels you asked for:\n```json\n" + want + "\n```\nLet me know if anything looks off.",
		},
		{
			"prose_then_bare_object",
			"The labels are " + want + " as requested.",
		},
		{
			"braces_inside_strings",
			`noise {"life_stage":"adult","adult_behaviors":["nectaring"],"larva_stage":"unknown","note":"shape like } or { inside"} trailing`,
		},
		{
			"escaped_quote_inside_string",
			`{"life_stage":"adult","adult_behaviors":["nectaring"],"larva_stage":"unknown","note":"she said \"open{\" loudly"}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := RecoverObjectText(tt.input)
			require.NoError(t, err)

			var gotObj, wantObj map[string]any
			require.NoError(t, json.Unmarshal(got, &gotObj))
			require.NoError(t, json.Unmarshal([]byte(want), &wantObj))
			for k, v := range wantObj {
				assert.Equal(t, v, gotObj[k])
			}
		})
	}
}

func TestRecoverObjectTextRejectsNonObjects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"prose_only", "I could not identify the butterfly."},
		{"array", `["adult","larva"]`},
		{"number", "42"},
		{"unbalanced", `{"life_stage":"adult"`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := RecoverObjectText(tt.input)
			require.ErrorIs(t, err, domain.ErrModelOutputInvalid)
		})
	}
}

func TestRecoverObject(t *testing.T) {
	t.Parallel()

	// Content already a JSON object.
	got, err := RecoverObject(json.RawMessage(`{"life_stage":"pupa"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"life_stage":"pupa"}`, string(got))

	// Content is a JSON string wrapping a fenced object.
	content, marshalErr := json.Marshal("```json\n{\"life_stage\":\"larva\",\"adult_behaviors\":[],\"larva_stage\":\"early\"}\n```")
	require.NoError(t, marshalErr)
	got, err = RecoverObject(content)
	require.NoError(t, err)
	assert.JSONEq(t, `{"life_stage":"larva","adult_behaviors":[],"larva_stage":"early"}`, string(got))

	// Content is a JSON array: not recoverable.
	_, err = RecoverObject(json.RawMessage(`[1,2]`))
	require.ErrorIs(t, err, domain.ErrModelOutputInvalid)

	_, err = RecoverObject(json.RawMessage(``))
	require.ErrorIs(t, err, domain.ErrModelOutputInvalid)
}

func TestExtractBalancedObject(t *testing.T) {
	t.Parallel()

	sub, ok := extractBalancedObject(`x {"a":{"b":1}} y`)
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":1}}`, sub)

	_, ok = extractBalancedObject("no braces here")
	assert.False(t, ok)

	_, ok = extractBalancedObject(`{"open": "never closed`)
	assert.False(t, ok)
}

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`+"\n", stripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`+"\n", stripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences(`{"a":1}`))
}
