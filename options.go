package nervusdb

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nervusdb/nervusdb/internal/codec"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// StagingMode selects the in-memory write-buffer implementation.
type StagingMode string

const (
	StagingDefault StagingMode = "default"
	StagingLSMLite StagingMode = "lsm-lite"
)

// Options configures Open (spec §6).
type Options struct {
	IndexDirectory           string      `yaml:"indexDirectory"`
	PageSize                 int         `yaml:"pageSize" validate:"omitempty,min=1"`
	RebuildIndexes           bool        `yaml:"rebuildIndexes"`
	CompressionCodec         string      `yaml:"compressionCodec" validate:"omitempty,oneof=raw brotli"`
	CompressionLevel         int         `yaml:"compressionLevel" validate:"omitempty,min=0,max=11"`
	EnableLock               bool        `yaml:"enableLock"`
	RegisterReader           bool        `yaml:"registerReader"`
	StagingMode              StagingMode `yaml:"stagingMode" validate:"omitempty,oneof=default lsm-lite"`
	EnablePersistentTxDedupe bool        `yaml:"enablePersistentTxDedupe"`
	MaxRememberTxIds         int         `yaml:"maxRememberTxIds" validate:"omitempty,min=0"`
	MetricsNamespace         string      `yaml:"metricsNamespace"`
}

// DefaultOptions returns the baseline Options every Open call starts from.
func DefaultOptions() Options {
	return Options{
		PageSize:         4096,
		EnableLock:       true,
		RegisterReader:   true,
		StagingMode:      StagingDefault,
		CompressionCodec: "raw",
		MetricsNamespace: "nervusdb",
	}
}

// LoadOptionsFile reads a YAML-shaped options file, overlaying it on
// DefaultOptions.
func LoadOptionsFile(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, nerr.Wrap(err, "nervusdb: reading options file")
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, nerr.InvalidArgumentf("nervusdb: malformed options file: %v", err)
	}
	return opts, nil
}

var validate = validator.New()

// Validate checks o's fields with struct tags, surfacing a typed
// InvalidArgument error listing every violation.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return nerr.InvalidArgumentf("nervusdb: invalid options: %v", err)
	}
	return nil
}

func (o Options) compression() codec.Codec {
	if o.CompressionCodec == "brotli" {
		return codec.CodecBrotli
	}
	return codec.CodecRaw
}
