package method

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStore(t *testing.T) {
	dir := t.TempDir()
	s := &Store{
		BuiltinDir: filepath.Join(dir, "builtin"),
		CustomDir:  filepath.Join(dir, "custom"),
	}

	assert.Empty(t, s.Load())

	m := &Method{
		Name:  "cv",
		Steps: []Step{{Kind: Hold, Potential: 0, Duration: Duration(time.Second)}},
	}
	assert.NoError(t, s.SaveCustom(m))
	assert.False(t, m.Created.IsZero())

	got, ok := s.Get("cv")
	assert.True(t, ok)
	assert.Equal(t, "cv", got.Name)
	assert.Len(t, got.Steps, 1)

	_, ok = s.Get("nope")
	assert.False(t, ok)

	assert.NoError(t, s.DeleteCustom("cv"))
	_, ok = s.Get("cv")
	assert.False(t, ok)
}

func TestStore_CustomShadowsBuiltin(t *testing.T) {
	dir := t.TempDir()
	s := &Store{
		BuiltinDir: filepath.Join(dir, "builtin"),
		CustomDir:  filepath.Join(dir, "custom"),
	}

	builtin := &Method{
		Name:  "cv",
		Steps: []Step{{Kind: Hold, Potential: 100, Duration: Duration(time.Second)}},
	}
	data, err := builtin.Encode()
	assert.NoError(t, err)
	assert.NoError(t, writeFile(s.BuiltinDir, "cv.json", data))

	custom := &Method{
		Name:  "cv",
		Steps: []Step{{Kind: Hold, Potential: 200, Duration: Duration(time.Second)}},
	}
	assert.NoError(t, s.SaveCustom(custom))

	got, ok := s.Get("cv")
	assert.True(t, ok)
	assert.Equal(t, 200.0, got.Steps[0].Potential)
}

func TestStore_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	s := &Store{CustomDir: dir}
	assert.NoError(t, writeFile(dir, "bad.json", []byte("{not json")))

	m := &Method{
		Name:  "ok",
		Steps: []Step{{Kind: Hold, Duration: Duration(time.Second)}},
	}
	assert.NoError(t, s.SaveCustom(m))

	methods := s.Load()
	assert.Len(t, methods, 1)
	assert.Equal(t, "ok", methods[0].Name)
}

func TestStore_InvalidNames(t *testing.T) {
	s := &Store{CustomDir: t.TempDir()}
	assert.Error(t, s.SaveCustom(&Method{Name: ""}))
	assert.Error(t, s.SaveCustom(&Method{Name: "../evil"}))
	assert.Error(t, s.DeleteCustom("../evil"))
}

func writeFile(dir, name string, data []byte) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(dir, name), data, 0644)
}
