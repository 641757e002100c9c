package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/errs"
	"github.com/robmartinson/tablesync/internal/schema"
	"github.com/robmartinson/tablesync/internal/syncer"
)

// JobFile describes a sync run in YAML:
//
//	direction: pull
//	tables: [customers, gas_types]
//	external:
//	  url: mysql://sync@db.example.com:3306/planning
type JobFile struct {
	Direction syncer.Direction  `yaml:"direction"`
	Tables    []string          `yaml:"tables,omitempty"`
	External  database.Endpoint `yaml:"external"`
}

// Job returns the sync job the file describes.
func (f *JobFile) Job() syncer.Job {
	return syncer.Job{Direction: f.Direction, Tables: f.Tables}
}

// LoadJobFile reads and validates a job file against catalog. Every
// problem found is reported in one error.
func LoadJobFile(path string, catalog *schema.Catalog) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	f := &JobFile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		return nil, errs.Validation("invalid job file %s: %v", path, err)
	}

	var problems []string
	switch f.Direction {
	case syncer.Push, syncer.Pull:
	case "":
		problems = append(problems, "direction is required")
	default:
		problems = append(problems, fmt.Sprintf("direction must be push or pull, got %q", f.Direction))
	}
	for _, t := range f.Tables {
		if _, ok := catalog.Table(t); !ok {
			problems = append(problems, fmt.Sprintf("unknown table %q", t))
		}
	}
	ep, err := f.External.Normalize()
	if err == nil {
		err = ep.Validate()
	}
	if err != nil {
		problems = append(problems, "external: "+err.Error())
	}

	if len(problems) > 0 {
		return nil, errs.Validation("invalid job file %s:\n- %s", path, strings.Join(problems, "\n- "))
	}
	return f, nil
}
