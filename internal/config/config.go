// Package config reads repository descriptors.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/sqlinfo"
	"github.com/roach88/fragstore/internal/storage"
)

// DefaultCacheCapacity bounds the pristine fragments cached per table.
const DefaultCacheCapacity = 10000

// Descriptor describes one repository.
type Descriptor struct {
	Name              string         `yaml:"name"`
	Dialect           string         `yaml:"dialect"`
	DSN               string         `yaml:"dsn"`
	IDPolicy          model.IDPolicy `yaml:"idPolicy"`
	SeparateMainTable bool           `yaml:"separateMainTable"`
	// PartialUpdates writes only the columns changed since the last save.
	PartialUpdates bool  `yaml:"partialUpdates"`
	CacheCapacity  int64 `yaml:"cacheCapacity"`
	// Schemas is the directory of CUE schema files.
	Schemas string `yaml:"schemas"`
	// TransactionTimeout bounds two-phase-commit transactions. Zero means
	// no timeout.
	TransactionTimeout time.Duration `yaml:"transactionTimeout"`
}

// Default returns a descriptor for a local SQLite repository.
func Default() *Descriptor {
	return &Descriptor{
		Name:          "default",
		Dialect:       sqlinfo.SQLite{}.Name(),
		DSN:           "repo.db",
		IDPolicy:      model.IDPolicyAppUUID,
		CacheCapacity: DefaultCacheCapacity,
		Schemas:       "schemas",
	}
}

// Load reads a descriptor file. Unset fields take their default values,
// unknown fields are rejected, and the schemas directory and a relative
// SQLite file resolve against the directory of the file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	d := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(d); err != nil {
		return nil, storage.NewConfigError("parse %s: %v", path, err)
	}

	base := filepath.Dir(path)
	if d.Schemas != "" && !filepath.IsAbs(d.Schemas) {
		d.Schemas = filepath.Join(base, d.Schemas)
	}
	if d.Dialect == (sqlinfo.SQLite{}).Name() && isRelativeFile(d.DSN) {
		d.DSN = filepath.Join(base, d.DSN)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// isRelativeFile reports whether a SQLite DSN names a relative file path.
func isRelativeFile(dsn string) bool {
	if dsn == "" || dsn == ":memory:" || filepath.IsAbs(dsn) {
		return false
	}
	return !strings.HasPrefix(dsn, "file:")
}

// Validate reports every invalid setting at once.
func (d *Descriptor) Validate() error {
	var problems *multierror.Error
	add := func(format string, args ...any) {
		problems = multierror.Append(problems, fmt.Errorf(format, args...))
	}

	if d.Name == "" {
		add("name is required")
	}
	if _, err := sqlinfo.DialectByName(d.Dialect); err != nil {
		add("unknown dialect %q", d.Dialect)
	}
	if d.DSN == "" {
		add("dsn is required")
	}
	switch d.IDPolicy {
	case model.IDPolicyAppUUID, model.IDPolicyDBIdentity:
	default:
		add("unknown idPolicy %q", d.IDPolicy)
	}
	if d.CacheCapacity <= 0 {
		add("cacheCapacity must be positive, got %d", d.CacheCapacity)
	}
	if d.TransactionTimeout < 0 {
		add("transactionTimeout must not be negative")
	}

	if err := problems.ErrorOrNil(); err != nil {
		return storage.NewConfigError("invalid descriptor: %v", err)
	}
	return nil
}

// ModelConfig returns the layout options of the descriptor.
func (d *Descriptor) ModelConfig() model.Config {
	return model.Config{
		IDPolicy:          d.IDPolicy,
		SeparateMainTable: d.SeparateMainTable,
	}
}

// SQLDialect returns the dialect named by the descriptor.
func (d *Descriptor) SQLDialect() (sqlinfo.Dialect, error) {
	return sqlinfo.DialectByName(d.Dialect)
}
