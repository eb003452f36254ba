package template

import (
	"testing"
	"testing/fstest"

	"github.com/rasnes/movielens-etl/queries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSqlTemplate(t *testing.T) {
	fsys := fstest.MapFS{
		"test_template.sql": {Data: []byte("SELECT * FROM {{.TableName}} WHERE id = {{.ID}};")},
		"broken.sql":        {Data: []byte("SELECT {{.Foo")},
	}

	tests := []struct {
		name       string
		path       string
		params     map[string]any
		want       string
		wantErr    bool
		errMessage string
	}{
		{
			name: "successful template execution",
			path: "test_template.sql",
			params: map[string]any{
				"TableName": "movies",
				"ID":        123,
			},
			want:    "SELECT * FROM movies WHERE id = 123;",
			wantErr: false,
		},
		{
			name:       "missing parameter",
			path:       "test_template.sql",
			params:     map[string]any{"TableName": "movies"},
			wantErr:    true,
			errMessage: "failed to execute template",
		},
		{
			name:       "unparsable template",
			path:       "broken.sql",
			params:     map[string]any{},
			wantErr:    true,
			errMessage: "failed to parse template",
		},
		{
			name:       "file not found",
			path:       "nonexistent.sql",
			wantErr:    true,
			errMessage: "file does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExecuteSqlTemplate(fsys, tt.path, tt.params)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMessage != "" {
					assert.Contains(t, err.Error(), tt.errMessage)
				}
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, result)
			}
		})
	}
}

func TestReadSqlTemplate(t *testing.T) {
	content := "SELECT * FROM test_table;"
	fsys := fstest.MapFS{"query.sql": {Data: []byte(content)}}

	result, err := ReadSqlTemplate(fsys, "query.sql")
	assert.NoError(t, err)
	assert.Equal(t, content, result)

	_, err = ReadSqlTemplate(fsys, "nonexistent.sql")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read template file")
}

func TestCandidateTemplate(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]any
		contains []string
		excludes []string
	}{
		{
			name:     "only rated with limit",
			params:   map[string]any{"OnlyRated": true, "Limit": 50},
			contains: []string{"\nJOIN (", "LIMIT 50", "e.status = 'pending'"},
			excludes: []string{"LEFT JOIN"},
		},
		{
			name:     "all movies without limit",
			params:   map[string]any{"OnlyRated": false, "Limit": 0},
			contains: []string{"LEFT JOIN ("},
			excludes: []string{"LIMIT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := ExecuteSqlTemplate(queries.FS, queries.EnrichmentCandidate, tt.params)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, query, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, query, s)
			}
		})
	}
}
