// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package result

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `{
  "totals": {"errors": 1, "file_errors": 2},
  "files": {
    "/proj/src/Foo.php": {
      "errors": 2,
      "messages": [
        {"message": "Undefined variable: $x", "line": 5, "ignorable": true},
        {"message": "Missing return type.", "line": null, "ignorable": false,
         "tip": "Add a return type", "identifier": "missingType.return"}
      ]
    }
  },
  "errors": ["Ignored error pattern was not matched"]
}`

func TestParse_Report(t *testing.T) {
	res, err := Parse([]byte(sampleReport))
	require.NoError(t, err)

	assert.Equal(t, Totals{Errors: 1, FileErrors: 2}, res.Totals)
	assert.Equal(t, []string{"Ignored error pattern was not matched"}, res.Errors)

	f, ok := res.Files["/proj/src/Foo.php"]
	require.True(t, ok)
	require.Len(t, f.Messages, 2)

	require.NotNil(t, f.Messages[0].Line)
	assert.Equal(t, 5, *f.Messages[0].Line)
	assert.True(t, f.Messages[0].Ignorable)

	assert.Nil(t, f.Messages[1].Line)
	assert.Equal(t, "Add a return type", f.Messages[1].Tip)
	assert.Equal(t, "missingType.return", f.Messages[1].Identifier)

	assert.Equal(t, 3, res.Count())
	assert.Equal(t, []string{"/proj/src/Foo.php"}, res.Files.Paths())
}

func TestParse_EmptyFilesArray(t *testing.T) {
	res, err := Parse([]byte(`{"totals":{"errors":0,"file_errors":0},"files":[],"errors":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, res.Files)
	assert.Empty(t, res.Files)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 0, res.Count())
}

func TestParse_NonStringGlobalErrors(t *testing.T) {
	res, err := Parse([]byte(`{"totals":{},"files":{},"errors":[42, {"a":1}, "text"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"42", `{"a":1}`, "text"}, res.Errors)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"not json", "PHP Fatal error: Allowed memory size exhausted"},
		{"truncated", `{"totals":{"errors":0`},
		{"non-empty files array", `{"files":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse([]byte(tt.stdout))
			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedOutput)

			var me *MalformedOutputError
			assert.True(t, errors.As(err, &me))
		})
	}
}

func TestParse_ExcerptIsBounded(t *testing.T) {
	_, err := Parse([]byte(strings.Repeat("x", 4096)))
	var me *MalformedOutputError
	require.True(t, errors.As(err, &me))
	assert.LessOrEqual(t, len(me.Excerpt), excerptLimit+3)
	assert.True(t, strings.HasSuffix(me.Excerpt, "..."))
}
