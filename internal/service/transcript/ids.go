package transcript

import (
	"fmt"
	"sync/atomic"
)

// Generator issues transcript entry ids.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-entry-%d", sessionID, n)
}
