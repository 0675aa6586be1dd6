package deploy

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/orderedmap"
)

// Outcome is the result of an update attempt.
type Outcome string

const (
	OutcomeNone            Outcome = ""
	OutcomeUnchanged       Outcome = "unchanged"
	OutcomeDeployed        Outcome = "deployed"
	OutcomeVCSFailure      Outcome = "vcs_failure"
	OutcomeRolledBack      Outcome = "rolled_back"
	OutcomeFirstRunFailure Outcome = "first_run_failure"
	OutcomeRollbackFailed  Outcome = "rollback_failed"
)

// IsDeploymentFailure returns true if the outcome is a failed deployment of
// a new commit.
func (o Outcome) IsDeploymentFailure() bool {
	return o == OutcomeRolledBack || o == OutcomeFirstRunFailure || o == OutcomeRollbackFailed
}

// RepoState is the deployment state of a tracked repository.
type RepoState struct {
	Name string
	// CommitHash is the commit that is checked out in the working copy.
	CommitHash  string
	CommitCount int
	// Broken is true when the last completed update attempt failed to
	// deploy a new commit.
	Broken    bool
	Rollbacks uint64

	LastAttemptAt time.Time
	// PreviousGoodCommit is the commit that the working copy is reset to
	// when deploying a new commit fails.
	PreviousGoodCommit string
	LastFailedCommit   string
	LastError          string
	LastOutcome        Outcome

	// Initialized is true after the first update attempt for the
	// repository read the checked out commit.
	Initialized bool
}

// GlobalStatus is a point-in-time copy of the state of all repositories.
type GlobalStatus struct {
	// LastRun is nil if no event was processed yet.
	LastRun *time.Time
	Repos   []RepoState
}

// StatePersister stores the state of repositories permanently.
type StatePersister interface {
	Save(*GlobalStatus) error
}

// Store holds the RepoState of all tracked repositories in discovery order.
type Store struct {
	lock    sync.Mutex
	states  *orderedmap.Map[string, *RepoState]
	lastRun *time.Time

	// saveLock serializes writes of the persister, a snapshot is taken
	// while it is held to prevent that an older snapshot overwrites a
	// newer one.
	saveLock  sync.Mutex
	persister StatePersister

	logger *zap.Logger
}

type StoreOption func(*Store)

// WithPersister configures the Store to save all states with p whenever a
// state is changed by Put.
func WithPersister(p StatePersister) StoreOption {
	return func(s *Store) {
		s.persister = p
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := Store{
		states: orderedmap.New[string, *RepoState](),
		logger: zap.L().Named(loggerName).Named("store"),
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &s
}

// Discover adds an empty state for the repository.
// It returns false if a state for the name already exists.
func (s *Store) Discover(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.states.InsertIfNotExist(name, &RepoState{Name: name})
}

// Restore replaces the state of discovered repositories with the
// passed states.
// States for repositories that have not been discovered are ignored, their
// names are returned.
func (s *Store) Restore(states []*RepoState) (ignored []string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, state := range states {
		if _, exist := s.states.Get(state.Name); !exist {
			ignored = append(ignored, state.Name)
			continue
		}

		cp := *state
		s.states.Set(state.Name, &cp)
	}

	return ignored
}

// Get returns a copy of the state of the repository.
func (s *Store) Get(name string) (RepoState, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	state, exist := s.states.Get(name)
	if !exist {
		return RepoState{}, false
	}

	return *state, true
}

// Exists returns true if a state for the repository exists.
func (s *Store) Exists(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, exist := s.states.Get(name)
	return exist
}

// Names returns the names of all repositories in discovery order.
func (s *Store) Names() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.states.Keys()
}

// Put replaces the state of a discovered repository.
// If the repository was not discovered, ErrUnknownRepo is returned.
// When a persister is configured, the states are saved afterwards. Errors
// of the persister are logged and not returned.
func (s *Store) Put(state RepoState) error {
	s.lock.Lock()
	if _, exist := s.states.Get(state.Name); !exist {
		s.lock.Unlock()
		return ErrUnknownRepo
	}
	s.states.Set(state.Name, &state)
	s.lock.Unlock()

	s.persist()

	return nil
}

// SetLastRun sets the time when the last event was processed.
func (s *Store) SetLastRun(t time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.lastRun = &t
}

func (s *Store) persist() {
	if s.persister == nil {
		return
	}

	s.saveLock.Lock()
	defer s.saveLock.Unlock()

	snapshot := s.Snapshot()
	if err := s.persister.Save(&snapshot); err != nil {
		s.logger.Warn(
			"saving repository states failed",
			logEventStateSaveFailed,
			zap.Error(err),
		)
	}
}

// Snapshot returns a copy of the last run time and of all repository states.
func (s *Store) Snapshot() GlobalStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	result := GlobalStatus{
		Repos: make([]RepoState, 0, s.states.Len()),
	}

	if s.lastRun != nil {
		t := *s.lastRun
		result.LastRun = &t
	}

	s.states.Foreach(func(_ string, state *RepoState) bool {
		result.Repos = append(result.Repos, *state)
		return true
	})

	return result
}
