package cli

import (
	"github.com/roach88/fragstore/internal/config"
	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/schema"
	"github.com/roach88/fragstore/internal/sqlinfo"
)

// Catalog is everything derived from a descriptor without touching the
// database.
type Catalog struct {
	Descriptor *config.Descriptor
	Registry   *schema.Registry
	Model      *model.Model
	SQL        *sqlinfo.SQLInfo
}

// loadDescriptor reads the descriptor at path, or the default one when
// path is empty.
func loadDescriptor(path string) (*config.Descriptor, error) {
	if path == "" {
		d := config.Default()
		return d, d.Validate()
	}
	return config.Load(path)
}

// LoadCatalog loads the descriptor, its schemas and the derived table
// layout.
func LoadCatalog(path string) (*Catalog, error) {
	d, err := loadDescriptor(path)
	if err != nil {
		return nil, err
	}
	reg, err := schema.LoadDir(d.Schemas)
	if err != nil {
		return nil, err
	}
	m, err := model.New(reg, d.ModelConfig())
	if err != nil {
		return nil, err
	}
	dialect, err := d.SQLDialect()
	if err != nil {
		return nil, err
	}
	info, err := sqlinfo.New(m, dialect)
	if err != nil {
		return nil, err
	}
	return &Catalog{Descriptor: d, Registry: reg, Model: m, SQL: info}, nil
}
