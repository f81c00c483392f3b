package assembly

import (
	"fmt"
	"sync"

	"github.com/hyperengineering/helix/internal/types"
)

// FactIDGenerator derives the fact ids a stitch needs from its concept
// parameters. Each concept type has its own derivation rule; the rule is the
// contract between the curriculum authoring store and this pipeline.
type FactIDGenerator func(params types.ConceptParams) []string

// generator registry. Concept types register during init; lookups are
// read-mostly.
var (
	generatorMu sync.RWMutex
	generators  = make(map[types.ConceptType]FactIDGenerator)
)

// RegisterGenerator adds a fact-id generator for a concept type.
// Panics if the concept type is already registered.
func RegisterGenerator(concept types.ConceptType, g FactIDGenerator) {
	generatorMu.Lock()
	defer generatorMu.Unlock()

	if _, exists := generators[concept]; exists {
		panic("generator already registered: " + string(concept))
	}
	generators[concept] = g
}

// GeneratorFor returns the generator for a concept type.
func GeneratorFor(concept types.ConceptType) (FactIDGenerator, bool) {
	generatorMu.RLock()
	defer generatorMu.RUnlock()
	g, ok := generators[concept]
	return g, ok
}

// binaryOperandIDs produces "<prefix>-<operand>-<n>" for n across the range,
// the shared shape for the two-operand concept families.
func binaryOperandIDs(prefix string) FactIDGenerator {
	return func(p types.ConceptParams) []string {
		ids := make([]string, 0, p.RangeEnd-p.RangeStart+1)
		for n := p.RangeStart; n <= p.RangeEnd; n++ {
			ids = append(ids, fmt.Sprintf("%s-%d-%d", prefix, p.Operand, n))
		}
		return ids
	}
}

// unaryOperandIDs produces "<prefix>-<n>" for the single-operand concepts.
func unaryOperandIDs(prefix string) FactIDGenerator {
	return func(p types.ConceptParams) []string {
		ids := make([]string, 0, p.RangeEnd-p.RangeStart+1)
		for n := p.RangeStart; n <= p.RangeEnd; n++ {
			ids = append(ids, fmt.Sprintf("%s-%d", prefix, n))
		}
		return ids
	}
}

func init() {
	RegisterGenerator(types.ConceptAddition, binaryOperandIDs("add"))
	RegisterGenerator(types.ConceptSubtraction, binaryOperandIDs("sub"))
	RegisterGenerator(types.ConceptMultiplication, binaryOperandIDs("mult"))
	RegisterGenerator(types.ConceptDivision, binaryOperandIDs("div"))
	RegisterGenerator(types.ConceptDoubling, unaryOperandIDs("doub"))
	RegisterGenerator(types.ConceptHalving, unaryOperandIDs("half"))
}
