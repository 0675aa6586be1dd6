package deploy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml"
)

// StateFile persists repository states as TOML file.
type StateFile struct {
	path string
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

type stateFileContent struct {
	LastRun      time.Time       `toml:"last_run"`
	Repositories []stateFileRepo `toml:"repository"`
}

type stateFileRepo struct {
	Name               string    `toml:"name"`
	CommitHash         string    `toml:"commit_hash"`
	CommitCount        int64     `toml:"commit_count"`
	Broken             bool      `toml:"broken"`
	Rollbacks          int64     `toml:"rollbacks"`
	LastAttemptAt      time.Time `toml:"last_attempt_at"`
	PreviousGoodCommit string    `toml:"previous_good_commit"`
	LastFailedCommit   string    `toml:"last_failed_commit"`
	LastError          string    `toml:"last_error"`
	LastOutcome        string    `toml:"last_outcome"`
	Initialized        bool      `toml:"initialized"`
}

// Load reads the states from the file.
// If the file does not exist, nil values are returned.
func (f *StateFile) Load() (states []*RepoState, lastRun *time.Time, err error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}

		return nil, nil, err
	}

	var content stateFileContent
	if err := toml.Unmarshal(data, &content); err != nil {
		return nil, nil, fmt.Errorf("parsing state file %s failed: %w", f.path, err)
	}

	if !content.LastRun.IsZero() {
		lastRun = &content.LastRun
	}

	states = make([]*RepoState, 0, len(content.Repositories))
	for _, r := range content.Repositories {
		if r.Rollbacks < 0 || r.CommitCount < 0 {
			return nil, nil, fmt.Errorf("state file %s: repository %s: negative counter value", f.path, r.Name)
		}

		states = append(states, &RepoState{
			Name:               r.Name,
			CommitHash:         r.CommitHash,
			CommitCount:        int(r.CommitCount),
			Broken:             r.Broken,
			Rollbacks:          uint64(r.Rollbacks),
			LastAttemptAt:      r.LastAttemptAt,
			PreviousGoodCommit: r.PreviousGoodCommit,
			LastFailedCommit:   r.LastFailedCommit,
			LastError:          r.LastError,
			LastOutcome:        Outcome(r.LastOutcome),
			Initialized:        r.Initialized,
		})
	}

	return states, lastRun, nil
}

// Save writes the status to the file.
// The file is replaced atomically.
func (f *StateFile) Save(status *GlobalStatus) error {
	content := stateFileContent{
		Repositories: make([]stateFileRepo, 0, len(status.Repos)),
	}

	if status.LastRun != nil {
		content.LastRun = *status.LastRun
	}

	for _, r := range status.Repos {
		content.Repositories = append(content.Repositories, stateFileRepo{
			Name:               r.Name,
			CommitHash:         r.CommitHash,
			CommitCount:        int64(r.CommitCount),
			Broken:             r.Broken,
			Rollbacks:          int64(r.Rollbacks),
			LastAttemptAt:      r.LastAttemptAt,
			PreviousGoodCommit: r.PreviousGoodCommit,
			LastFailedCommit:   r.LastFailedCommit,
			LastError:          r.LastError,
			LastOutcome:        string(r.LastOutcome),
			Initialized:        r.Initialized,
		})
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(content); err != nil {
		return fmt.Errorf("encoding states failed: %w", err)
	}

	return writeFileAtomic(f.path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	tmpf, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	defer os.Remove(tmpf.Name())

	if _, err := tmpf.Write(data); err != nil {
		_ = tmpf.Close()
		return err
	}

	if err := tmpf.Sync(); err != nil {
		_ = tmpf.Close()
		return err
	}

	if err := tmpf.Close(); err != nil {
		return err
	}

	return os.Rename(tmpf.Name(), path)
}
