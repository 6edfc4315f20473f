package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/store"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
)

//State is the level of the house, space, device hierarchy a workspace shows
type State string

const (
	HouseList  State = "house_list"
	SpaceList  State = "space_list"
	DeviceList State = "device_list"
)

var (
	ErrUnknownHouse = errors.New("unknown house")
	ErrUnknownSpace = errors.New("unknown space")
	//ErrSuperseded is returned when a newer navigation replaced the one a fetch belonged to
	ErrSuperseded = errors.New("navigation superseded by a newer one")
)

//Platform is the part of the remote REST platform needed to walk the hierarchy
type Platform interface {
	Houses(ctx context.Context, groupID string) ([]domain.House, error)
	Spaces(ctx context.Context, houseID string) ([]domain.Space, error)
	Devices(ctx context.Context, spaceID, groupID string) ([]domain.DeviceRecord, error)
}

//View is what a dashboard renders for a workspace
type View struct {
	GroupID string                `json:"group_id"`
	State   State                 `json:"state"`
	House   *domain.House         `json:"house,omitempty"`
	Space   *domain.Space         `json:"space,omitempty"`
	Houses  []domain.HouseSummary `json:"houses"`
	Spaces  []domain.SpaceSummary `json:"spaces,omitempty"`
	Devices []store.DeviceView    `json:"devices,omitempty"`
}

//Position is the persistable part of a workspace
type Position struct {
	State   State
	HouseID string
	SpaceID string
}

//Workspace drives which level of the hierarchy of one group is visible. Each transition bumps
//a generation; fetches that resolve after a newer transition are dropped.
type Workspace struct {
	mu         sync.Mutex
	groupID    string
	platform   Platform
	store      *store.Store
	log        logging.Logger
	fanOut     int
	state      State
	generation uint64
	houses     []domain.HouseSummary
	spaces     []domain.SpaceSummary
	house      *domain.House
	space      *domain.Space
}

//NewWorkspace creates a workspace in the HouseList state. fanOut bounds the number of
//concurrent count requests.
func NewWorkspace(groupID string, p Platform, s *store.Store, log logging.Logger, fanOut int) *Workspace {
	if fanOut <= 0 {
		fanOut = 1
	}

	return &Workspace{
		groupID:  groupID,
		platform: p,
		store:    s,
		log:      log,
		fanOut:   fanOut,
		state:    HouseList,
	}
}

//Open loads the houses of the group together with their space counts and shows the house list
func (w *Workspace) Open(ctx context.Context) error {
	gen := w.begin(func() {
		w.state = HouseList
		w.house, w.space, w.spaces = nil, nil, nil
	})

	houses, err := w.platform.Houses(ctx, w.groupID)
	if err != nil {
		return err
	}

	for i := range houses {
		if houses[i].GroupID == "" {
			houses[i].GroupID = w.groupID
		}
	}

	summaries := w.countSpaces(ctx, houses)

	return w.commit(gen, func() {
		w.houses = summaries
	})
}

//SelectHouse shows the spaces of a house. Any space selected before is cleared first, so no
//space of a previous house can be shown together with the new one.
func (w *Workspace) SelectHouse(ctx context.Context, houseID string) error {
	w.mu.Lock()
	house, ok := w.findHouse(houseID)
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHouse, houseID)
	}

	gen := w.begin(func() {
		w.state = SpaceList
		w.house = house
		w.space, w.spaces = nil, nil
	})

	spaces, err := w.platform.Spaces(ctx, houseID)
	if err != nil {
		w.rollback(gen, func() {
			w.state = HouseList
			w.house = nil
		})
		return err
	}

	for i := range spaces {
		if spaces[i].HouseID == "" {
			spaces[i].HouseID = houseID
		}
	}

	summaries := w.countDevices(ctx, spaces)

	return w.commit(gen, func() {
		w.spaces = summaries
	})
}

//SelectSpace loads the devices of a space into the store and shows the device list
func (w *Workspace) SelectSpace(ctx context.Context, spaceID string) error {
	w.mu.Lock()
	space, ok := w.findSpace(spaceID)
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpace, spaceID)
	}

	gen := w.begin(func() {
		w.state = DeviceList
		w.space = space
	})

	devices, err := w.platform.Devices(ctx, spaceID, w.groupID)
	if err != nil {
		w.rollback(gen, func() {
			w.state = SpaceList
			w.space = nil
		})
		return err
	}

	return w.commit(gen, func() {
		w.store.Load(spaceID, devices)
	})
}

//Back leaves the current level and clears the selection that belonged to it
func (w *Workspace) Back() State {
	w.begin(func() {
		switch w.state {
		case DeviceList:
			w.state = SpaceList
			w.space = nil
		case SpaceList:
			w.state = HouseList
			w.house, w.space, w.spaces = nil, nil, nil
		}
	})

	return w.State()
}

//Restore replays a persisted position. Positions that no longer exist fall back to the
//deepest level that still does.
func (w *Workspace) Restore(ctx context.Context, pos Position) error {
	if err := w.Open(ctx); err != nil {
		return err
	}

	if pos.State == HouseList || pos.HouseID == "" {
		return nil
	}

	if err := w.SelectHouse(ctx, pos.HouseID); err != nil {
		if errors.Is(err, ErrUnknownHouse) {
			return nil
		}
		return err
	}

	if pos.State == SpaceList || pos.SpaceID == "" {
		return nil
	}

	if err := w.SelectSpace(ctx, pos.SpaceID); err != nil && !errors.Is(err, ErrUnknownSpace) {
		return err
	}

	return nil
}

//State returns the current level
func (w *Workspace) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

//Position returns the persistable selection of the workspace
func (w *Workspace) Position() Position {
	w.mu.Lock()
	defer w.mu.Unlock()

	pos := Position{State: w.state}
	if w.house != nil {
		pos.HouseID = w.house.HouseID
	}
	if w.space != nil {
		pos.SpaceID = w.space.SpaceID
	}
	return pos
}

//View returns a snapshot of what the workspace shows
func (w *Workspace) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := View{
		GroupID: w.groupID,
		State:   w.state,
		Houses:  append([]domain.HouseSummary{}, w.houses...),
	}

	if w.house != nil {
		h := *w.house
		v.House = &h
		v.Spaces = append([]domain.SpaceSummary{}, w.spaces...)
	}

	if w.state == DeviceList && w.space != nil {
		s := *w.space
		v.Space = &s
		v.Devices = w.store.List(s.SpaceID)
	}

	return v
}

func (w *Workspace) begin(fn func()) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.generation++
	fn()
	return w.generation
}

func (w *Workspace) commit(gen uint64, fn func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation {
		w.log.Debugf("Dropping stale navigation result for group %s", w.groupID)
		return ErrSuperseded
	}

	fn()
	return nil
}

func (w *Workspace) rollback(gen uint64, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen == w.generation {
		w.generation++
		fn()
	}
}

func (w *Workspace) findHouse(houseID string) (*domain.House, bool) {
	for i := range w.houses {
		if w.houses[i].HouseID == houseID {
			h := w.houses[i].House
			return &h, true
		}
	}
	return nil, false
}

func (w *Workspace) findSpace(spaceID string) (*domain.Space, bool) {
	if w.house == nil {
		return nil, false
	}

	for i := range w.spaces {
		if w.spaces[i].SpaceID == spaceID && w.spaces[i].HouseID == w.house.HouseID {
			s := w.spaces[i].Space
			return &s, true
		}
	}
	return nil, false
}

//countSpaces derives the space count of every house with one request per house
func (w *Workspace) countSpaces(ctx context.Context, houses []domain.House) []domain.HouseSummary {
	summaries := make([]domain.HouseSummary, len(houses))

	g := &errgroup.Group{}
	g.SetLimit(w.fanOut)

	for i := range houses {
		i := i
		summaries[i] = domain.HouseSummary{House: houses[i], SpaceCount: domain.UnknownCount}

		g.Go(func() error {
			spaces, err := w.platform.Spaces(ctx, houses[i].HouseID)
			if err != nil {
				w.log.Warnf("Failed to count spaces of house %s: %s", houses[i].HouseID, err.Error())
				return nil
			}
			summaries[i].SpaceCount = len(spaces)
			return nil
		})
	}

	g.Wait()
	return summaries
}

//countDevices derives the device count of every space with one request per space
func (w *Workspace) countDevices(ctx context.Context, spaces []domain.Space) []domain.SpaceSummary {
	summaries := make([]domain.SpaceSummary, len(spaces))

	g := &errgroup.Group{}
	g.SetLimit(w.fanOut)

	for i := range spaces {
		i := i
		summaries[i] = domain.SpaceSummary{Space: spaces[i], DeviceCount: domain.UnknownCount}

		g.Go(func() error {
			devices, err := w.platform.Devices(ctx, spaces[i].SpaceID, w.groupID)
			if err != nil {
				w.log.Warnf("Failed to count devices of space %s: %s", spaces[i].SpaceID, err.Error())
				return nil
			}
			summaries[i].DeviceCount = len(devices)
			return nil
		})
	}

	g.Wait()
	return summaries
}
