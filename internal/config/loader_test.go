package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `name: smoke
baseUrl: http://127.0.0.1:9000
stages:
  - duration: 10s
    target: 5
  - duration: 20s
    target: 0
thresholds:
  http_req_duration: ["p95 < 300ms"]
gracefulStop: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "smoke", p.Name)
	assert.Equal(t, "http://127.0.0.1:9000", p.BaseURL)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, 10*time.Second, p.Stages[0].Duration.Std())
	assert.Equal(t, 5, p.Stages[0].Target)
	assert.Equal(t, map[string][]string{"http_req_duration": {"p95 < 300ms"}}, p.Thresholds)
	assert.Equal(t, 5*time.Second, p.GracefulStop.Std())
	assert.Equal(t, DefaultTimeout, p.Timeout.Std())
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	content := `{
		"stages": [{"duration": "1s", "target": 1}],
		"thresholds": {},
		"timeout": "2s",
		"maxIdleConnsPerHost": 10
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, p.BaseURL)
	assert.Empty(t, p.Thresholds)
	assert.Equal(t, 2*time.Second, p.Timeout.Std())
	assert.Equal(t, 10, p.MaxIdleConnsPerHost)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	p, err := Parse([]byte(""), "profile.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultStages(), p.Stages)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("stages: [\n"), "profile.yaml")
	assert.ErrorContains(t, err, "failed to parse YAML config")

	_, err = Parse([]byte("{"), "profile.json")
	assert.ErrorContains(t, err, "failed to parse JSON config")
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"unknown field", "vus: 10\n", ""},
		{"negative target", "stages:\n  - duration: 1s\n    target: -1\n", "stages[0].target"},
		{"missing target", "stages:\n  - duration: 1s\n", "stages[0]"},
		{"numeric duration", "stages:\n  - duration: 10\n    target: 1\n", "stages[0].duration"},
		{"threshold not a list", "thresholds:\n  http_req_failed: rate<0.01\n", "thresholds.http_req_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "profile.yaml")
			require.Error(t, err)

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs), "got %T: %v", err, err)
			require.True(t, verrs.HasErrors())

			var fields []string
			for _, e := range verrs.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestParse_SemanticErrors(t *testing.T) {
	doc := `baseUrl: ftp://example.com
stages:
  - duration: 0s
    target: 1
thresholds:
  http_req_duration: ["p(95)<fast"]
  vus: ["count<1"]
`
	_, err := Parse([]byte(doc), "profile.yaml")
	require.Error(t, err)

	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make(map[string]bool)
	for _, e := range verrs.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["baseUrl"])
	assert.True(t, fields["stages[0].duration"])
	assert.True(t, fields["thresholds.http_req_duration[0]"])
	assert.True(t, fields["thresholds.vus"])
	assert.Contains(t, err.Error(), "4 validation errors")
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "", fieldPath(""))
	assert.Equal(t, "stages[0].target", fieldPath("/stages/0/target"))
	assert.Equal(t, "thresholds.http_req_failed", fieldPath("/thresholds/http_req_failed"))
}
