package navigation

import (
	"context"
	"sync"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/store"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
)

//PositionStore persists workspace positions across restarts
type PositionStore interface {
	GetWorkspacePosition(sessionID, groupID string) (state, houseID, spaceID string, found bool, err error)
	SaveWorkspacePosition(sessionID, groupID, state, houseID, spaceID string) error
}

type sessionKey struct {
	session string
	group   string
}

//Sessions keeps one workspace per dashboard session and group
type Sessions struct {
	mu         sync.Mutex
	workspaces map[sessionKey]*Workspace
	platform   Platform
	store      *store.Store
	positions  PositionStore
	log        logging.Logger
	fanOut     int
}

//NewSessions creates an empty registry. positions may be nil.
func NewSessions(p Platform, s *store.Store, positions PositionStore, log logging.Logger, fanOut int) *Sessions {
	return &Sessions{
		workspaces: map[sessionKey]*Workspace{},
		platform:   p,
		store:      s,
		positions:  positions,
		log:        log,
		fanOut:     fanOut,
	}
}

//Workspace returns the workspace of a session and group, creating and opening it on first use.
//A persisted position is restored when one exists.
func (s *Sessions) Workspace(ctx context.Context, sessionID, groupID string) (*Workspace, error) {
	key := sessionKey{session: sessionID, group: groupID}

	s.mu.Lock()
	w, ok := s.workspaces[key]
	s.mu.Unlock()
	if ok {
		return w, nil
	}

	w = NewWorkspace(groupID, s.platform, s.store, s.log, s.fanOut)

	pos := Position{State: HouseList}
	if s.positions != nil {
		state, houseID, spaceID, found, err := s.positions.GetWorkspacePosition(sessionID, groupID)
		if err != nil {
			s.log.Warnf("Failed to load workspace position of session %s: %s", sessionID, err.Error())
		} else if found {
			pos = Position{State: State(state), HouseID: houseID, SpaceID: spaceID}
		}
	}

	if err := w.Restore(ctx, pos); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.workspaces[key]; ok {
		return existing, nil
	}
	s.workspaces[key] = w

	return w, nil
}

//Save persists the current position of a workspace
func (s *Sessions) Save(sessionID string, w *Workspace) {
	if s.positions == nil {
		return
	}

	pos := w.Position()
	if err := s.positions.SaveWorkspacePosition(sessionID, w.groupID, string(pos.State), pos.HouseID, pos.SpaceID); err != nil {
		s.log.Errorf("Failed to save workspace position of session %s: %s", sessionID, err.Error())
	}
}
