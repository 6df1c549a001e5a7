// Package id generates identifiers for events, tasks, and recorder files.
package id

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

var (
	generatorMutex        sync.Mutex
	generatorInstantiated bool
	generator             IDGenerator
)

// UseSequentialIDGenerator makes the package generate IDs as increasing
// decimal numbers. Sequential IDs keep traces reproducible across runs.
func UseSequentialIDGenerator() {
	install(&sequentialIDGenerator{})
}

// UseParallelIDGenerator makes the package generate globally unique xid IDs.
// The IDs are not deterministic.
func UseParallelIDGenerator() {
	install(parallelIDGenerator{})
}

func install(g IDGenerator) {
	generatorMutex.Lock()
	defer generatorMutex.Unlock()

	if generatorInstantiated {
		log.Panic("cannot change id generator type after using it")
	}

	generator = g
	generatorInstantiated = true
}

// Generate returns a new ID from the generator in use. The sequential
// generator is used if none was selected.
func Generate() string {
	generatorMutex.Lock()
	if !generatorInstantiated {
		generator = &sequentialIDGenerator{}
		generatorInstantiated = true
	}
	g := generator
	generatorMutex.Unlock()

	return g.Generate()
}

// NewIDGenerator returns a private sequential generator, independent of the
// package-level one.
func NewIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)

	return strconv.FormatUint(idNumber, 10)
}

type parallelIDGenerator struct{}

func (g parallelIDGenerator) Generate() string {
	return xid.New().String()
}
