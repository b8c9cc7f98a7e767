package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

// FileTypeRunReport marks a persisted orchestration run report.
const FileTypeRunReport = "run_report"

var validFileTypes = map[string]bool{
	FileTypeRunReport: true,
}

// SchemaHeader is embedded at the top of every document migrun writes.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// NewHeader returns the current header for fileType.
func NewHeader(fileType string) SchemaHeader {
	return SchemaHeader{SchemaVersion: CurrentSchemaVersion, FileType: fileType}
}

func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if header.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", header.SchemaVersion)
	}
	if header.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", header.SchemaVersion, CurrentSchemaVersion)
	}
	if header.FileType == "" {
		return fmt.Errorf("missing file_type")
	}
	if !validFileTypes[header.FileType] {
		return fmt.Errorf("unknown file_type: %q", header.FileType)
	}
	if expectedFileType != "" && header.FileType != expectedFileType {
		return fmt.Errorf("file_type mismatch: got %q, expected %q", header.FileType, expectedFileType)
	}
	return nil
}

// ReadDocument validates the header of the document at path and decodes it into out.
func ReadDocument(path, expectedFileType string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if err := ValidateSchemaHeaderFromBytes(content, expectedFileType); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
