package services

import (
	"fmt"
	"math"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// Position is a player's world coordinates as last reported by the game
// simulation.
type Position struct {
	X, Y, Z float64
}

// LocatorService is an in-memory registry of player positions backing
// the face-to-face trade range check.
type LocatorService struct {
	mu        sync.RWMutex
	positions map[snowflake.ID]Position
}

func NewLocatorService() *LocatorService {
	return &LocatorService{
		positions: make(map[snowflake.ID]Position),
	}
}

// Update records a player's current position.
func (s *LocatorService) Update(playerID snowflake.ID, pos Position) {
	s.mu.Lock()
	s.positions[playerID] = pos
	s.mu.Unlock()
}

// Forget drops a player from the registry, typically on disconnect.
func (s *LocatorService) Forget(playerID snowflake.ID) {
	s.mu.Lock()
	delete(s.positions, playerID)
	s.mu.Unlock()
}

// Distance returns the euclidean distance between two players and fails
// when either has no known position.
func (s *LocatorService) Distance(a, b snowflake.ID) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pa, ok := s.positions[a]
	if !ok {
		return 0, fmt.Errorf("no known position for player %s", a)
	}
	pb, ok := s.positions[b]
	if !ok {
		return 0, fmt.Errorf("no known position for player %s", b)
	}

	dx := pa.X - pb.X
	dy := pa.Y - pb.Y
	dz := pa.Z - pb.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz), nil
}
