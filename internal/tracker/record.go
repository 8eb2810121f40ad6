package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Record is the persisted metadata for a single output file.
type Record struct {
	Command     string `toml:"command"`
	OutputFile  string `toml:"outputFile"`
	Fingerprint string `toml:"fingerprint"`
}

// Fingerprint hashes command and output path. Identical inputs always yield
// identical fingerprints.
func Fingerprint(command, outputFile string) string {
	sum := sha256.Sum256([]byte(command + "_" + outputFile))
	return hex.EncodeToString(sum[:])
}

// NewRecord builds the record for command producing outputFile.
func NewRecord(command, outputFile string) Record {
	return Record{Command: command, OutputFile: outputFile, Fingerprint: Fingerprint(command, outputFile)}
}

// Load parses a record file.
func Load(path string) (Record, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("tracker: read record: %w", err)
	}
	var rec Record
	if err := toml.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("tracker: decode record %s: %w", path, err)
	}
	if rec.OutputFile == "" || rec.Fingerprint == "" {
		return Record{}, errors.New("tracker: record missing outputFile or fingerprint")
	}
	return rec, nil
}
