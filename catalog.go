// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tabledb

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors/oserror"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bpowers/tabledb/dberr"
)

const (
	catalogFile    = "catalog.yaml"
	catalogVersion = 1
)

// catalog is the list of persistent tables in a database directory.
type catalog struct {
	Version int       `yaml:"version"`
	ID      string    `yaml:"id"`
	Name    string    `yaml:"name"`
	Created time.Time `yaml:"created"`
	Tables  []string  `yaml:"tables"`
}

func newCatalog(name string) *catalog {
	return &catalog{
		Version: catalogVersion,
		ID:      uuid.NewString(),
		Name:    name,
		Created: time.Now().UTC().Truncate(time.Second),
		Tables:  []string{},
	}
}

func loadCatalog(dir string) (*catalog, error) {
	path := filepath.Join(dir, catalogFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return nil, dberr.New(dberr.DatabaseNotFound, "no catalog in %s", dir)
		}
		return nil, dberr.Wrap(err, dberr.FileIO, "read %s", path)
	}
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, dberr.Wrap(err, dberr.TableCorrupted, "parse %s", path)
	}
	if c.Version != catalogVersion {
		return nil, dberr.New(dberr.TableCorrupted, "%s: version %d, expected %d", path, c.Version, catalogVersion)
	}
	if _, err := uuid.Parse(c.ID); err != nil {
		return nil, dberr.Wrap(err, dberr.TableCorrupted, "%s: database id", path)
	}
	seen := make(stringSet)
	for _, name := range c.Tables {
		if seen.Contains(name) {
			return nil, dberr.New(dberr.TableCorrupted, "%s: table %q listed twice", path, name)
		}
		seen.Add(name)
	}
	return &c, nil
}

// save writes the catalog to a temporary file and renames it into place.
func (c *catalog) save(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return dberr.Wrap(err, dberr.GeneralControl, "encode catalog")
	}
	f, err := os.CreateTemp(dir, "catalog.*.yaml")
	if err != nil {
		return dberr.Wrap(err, dberr.FileIO, "CreateTemp in %s", dir)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return dberr.Wrap(err, dberr.FileIO, "write %s", f.Name())
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return dberr.Wrap(err, dberr.FileIO, "sync %s", f.Name())
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return dberr.Wrap(err, dberr.FileIO, "close %s", f.Name())
	}
	if err := os.Rename(f.Name(), filepath.Join(dir, catalogFile)); err != nil {
		_ = os.Remove(f.Name())
		return dberr.Wrap(err, dberr.FileIO, "os.Rename")
	}
	return nil
}

func (c *catalog) indexOf(name string) int {
	for i, t := range c.Tables {
		if t == name {
			return i
		}
	}
	return -1
}

func (c *catalog) add(name string) {
	c.Tables = append(c.Tables, name)
}

func (c *catalog) remove(name string) {
	if i := c.indexOf(name); i >= 0 {
		c.Tables = append(c.Tables[:i], c.Tables[i+1:]...)
	}
}
