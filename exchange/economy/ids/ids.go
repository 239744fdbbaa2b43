// Package ids issues unique snowflake ids for in-memory registries.
package ids

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Generator hands out strictly increasing ids. snowflake.New derives an
// id from the wall clock alone, so two entities created within the same
// millisecond would collide; the generator bumps past the last issued
// id instead.
type Generator struct {
	mu   sync.Mutex
	last snowflake.ID
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next() snowflake.ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := snowflake.New(time.Now())
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
