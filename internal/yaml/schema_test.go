package yaml

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchemaHeader(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr string
	}{
		{"valid", "schema_version: 1\nfile_type: run_report\n", FileTypeRunReport, ""},
		{"any type accepted", "schema_version: 1\nfile_type: run_report\n", "", ""},
		{"unsupported version", "schema_version: 2\nfile_type: run_report\n", "", "unsupported schema_version"},
		{"negative version", "schema_version: -1\nfile_type: run_report\n", "", "invalid schema_version"},
		{"missing version", "file_type: run_report\n", "", "invalid schema_version"},
		{"missing type", "schema_version: 1\n", "", "missing file_type"},
		{"unknown type", "schema_version: 1\nfile_type: queue_task\n", "", "unknown file_type"},
		{"not yaml", "schema_version: [\n", "", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchemaHeaderFromBytes([]byte(tt.content), tt.want)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type document struct {
	SchemaHeader `yaml:",inline"`
	Outcome      string `yaml:"outcome"`
}

func TestReadDocument_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, AtomicWrite(path, document{SchemaHeader: NewHeader(FileTypeRunReport), Outcome: "complete"}))

	var got document
	require.NoError(t, ReadDocument(path, FileTypeRunReport, &got))
	assert.Equal(t, "complete", got.Outcome)
	assert.Equal(t, CurrentSchemaVersion, got.SchemaVersion)
}

func TestReadDocument_RejectsHeaderless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, AtomicWrite(path, map[string]string{"outcome": "complete"}))

	var got document
	err := ReadDocument(path, FileTypeRunReport, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_version")
}
