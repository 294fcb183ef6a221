// Package store persists calibration records as JSON files and keeps a SQLite history of runs.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/camcal/camcal/rimage/calibration"
)

// MarshalRecord validates rec and encodes it as indented JSON. Floats are written in their
// shortest exact form, so decoding yields the same values.
func MarshalRecord(rec calibration.Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, errors.Wrap(err, "refusing to store invalid calibration record")
	}
	return json.MarshalIndent(rec, "", "  ")
}

// UnmarshalRecord decodes and validates a record.
func UnmarshalRecord(data []byte) (calibration.Record, error) {
	var rec calibration.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return calibration.Record{}, errors.Wrap(err, "cannot decode calibration record")
	}
	if err := rec.Validate(); err != nil {
		return calibration.Record{}, errors.Wrap(err, "invalid calibration record")
	}
	return rec, nil
}

// WriteRecord stores rec at path, creating parent directories. The file is replaced atomically.
func WriteRecord(path string, rec calibration.Record) error {
	data, err := MarshalRecord(rec)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		//nolint:errcheck,gosec
		tmp.Close()
		//nolint:errcheck
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		//nolint:errcheck
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadRecord loads the record at path.
func ReadRecord(path string) (calibration.Record, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return calibration.Record{}, err
	}
	rec, err := UnmarshalRecord(data)
	if err != nil {
		return calibration.Record{}, errors.Wrapf(err, "reading %s", path)
	}
	return rec, nil
}
