package main

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// migrationFilenameRegex matches 001_name.up.sql and 001_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

var (
	// ErrNoMigrations is returned when the migration set is empty.
	ErrNoMigrations = errors.New("no embedded migration files found")

	// ErrInvalidMigrationSet is returned when the migration files are not a contiguous
	// sequence of up/down pairs, or when a file changed since it was first validated.
	ErrInvalidMigrationSet = errors.New("invalid migration set")
)

type (
	// MigrationSet is a validated set of SQL migrations. The schema it describes is the
	// identity reverse index plus the create_legacy_account function used to provision
	// legacy account schemas.
	MigrationSet struct {
		fs        fs.FS
		checksums map[string]string
	}

	// MigrationInfo is a parsed migration filename.
	MigrationInfo struct {
		Sequence  int
		Name      string
		Direction string
		Filename  string
	}
)

// NewMigrationSet wraps filesystem, or the embedded migrations when filesystem is nil.
func NewMigrationSet(filesystem fs.FS) *MigrationSet {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &MigrationSet{fs: filesystem, checksums: make(map[string]string)}
}

// FS returns the filesystem holding the migration files.
func (m *MigrationSet) FS() fs.FS {
	return m.fs
}

// Files returns the well-formed migration filenames in lexical order.
func (m *MigrationSet) Files() ([]string, error) {
	entries, err := fs.ReadDir(m.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		if migrationFilenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	slices.Sort(files)

	return files, nil
}

// Latest returns the highest migration sequence in the set, 0 when empty.
func (m *MigrationSet) Latest() int {
	files, err := m.Files()
	if err != nil {
		return 0
	}

	latest := 0

	for _, f := range files {
		if info, err := parseMigrationFilename(f); err == nil {
			latest = max(latest, info.Sequence)
		}
	}

	return latest
}

// Validate checks that every migration has both directions, that sequences start at 001
// without gaps, and that no file changed since the previous call.
func (m *MigrationSet) Validate() error {
	files, err := m.Files()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	pairs := make(map[int]map[string]bool)

	for _, f := range files {
		info, err := parseMigrationFilename(f)
		if err != nil {
			return err
		}

		if pairs[info.Sequence] == nil {
			pairs[info.Sequence] = make(map[string]bool, 2)
		}

		pairs[info.Sequence][info.Direction] = true
	}

	sequences := make([]int, 0, len(pairs))

	for seq, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("%w: %03d has no up migration", ErrInvalidMigrationSet, seq)
		}

		if !directions["down"] {
			return fmt.Errorf("%w: %03d has no down migration", ErrInvalidMigrationSet, seq)
		}

		sequences = append(sequences, seq)
	}

	slices.Sort(sequences)

	for i, seq := range sequences {
		if seq != i+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrInvalidMigrationSet, i+1, seq)
		}
	}

	for _, f := range files {
		content, err := fs.ReadFile(m.fs, f)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", f, err)
		}

		sum := sha256.Sum256(content)
		checksum := hex.EncodeToString(sum[:])

		if previous, ok := m.checksums[f]; ok && previous != checksum {
			return fmt.Errorf("%w: %s changed since it was validated", ErrInvalidMigrationSet, f)
		}

		m.checksums[f] = checksum
	}

	return nil
}

func parseMigrationFilename(filename string) (MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 { //nolint:mnd
		return MigrationInfo{}, fmt.Errorf("%w: %s does not match 001_name.(up|down).sql",
			ErrInvalidMigrationSet, filename)
	}

	seq, err := strconv.Atoi(matches[1])
	if err != nil {
		return MigrationInfo{}, fmt.Errorf("%w: %s: %w", ErrInvalidMigrationSet, filename, err)
	}

	return MigrationInfo{
		Sequence:  seq,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}
