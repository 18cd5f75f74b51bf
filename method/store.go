package method

import (
	"errors"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store loads methods from a built-in and a user-editable directory.
// Files in the custom directory shadow built-in ones of the same name.
type Store struct {
	BuiltinDir string
	CustomDir  string
}

// Load reads every method file. Unreadable files are logged and
// skipped so one bad file cannot hide the rest.
func (s *Store) Load() []*Method {
	var methods []*Method
	seen := make(map[string]bool)
	for _, dir := range []string{s.CustomDir, s.BuiltinDir} {
		if dir == "" {
			continue
		}
		files, err := ioutil.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Println("ERROR: read methods dir:", err)
			}
			continue
		}
		for _, fi := range files {
			if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, fi.Name())
			data, err := ioutil.ReadFile(path)
			if err != nil {
				log.Printf("ERROR: read '%s': %v", path, err)
				continue
			}
			m, err := Parse(data)
			if err != nil {
				log.Printf("ERROR: parse '%s': %v", path, err)
				continue
			}
			if m.Name == "" || seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			methods = append(methods, m)
		}
	}
	return methods
}

// Get returns the named method.
func (s *Store) Get(name string) (*Method, bool) {
	for _, m := range s.Load() {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// SaveCustom writes m to the custom directory as <name>.json.
func (s *Store) SaveCustom(m *Method) error {
	if s.CustomDir == "" {
		return errors.New("no custom method directory configured")
	}
	if m.Name == "" {
		return errors.New("method name required")
	}
	if strings.ContainsAny(m.Name, `/\`) {
		return errors.New("invalid method name")
	}
	if m.Created.IsZero() {
		m.Created = time.Now()
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	err = os.MkdirAll(s.CustomDir, 0755)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(s.CustomDir, m.Name+".json"), data, 0644)
}

// DeleteCustom removes the named method from the custom directory.
// Built-in methods cannot be deleted.
func (s *Store) DeleteCustom(name string) error {
	if s.CustomDir == "" || name == "" || strings.ContainsAny(name, `/\`) {
		return errors.New("invalid method name")
	}
	return os.Remove(filepath.Join(s.CustomDir, name+".json"))
}
