// Package distractor generates the single wrong answer paired with each
// question. The boundary level controls how hard the distractor is to tell
// apart from the true answer, from wrong-category noise at level 1 down to
// an off-by-one at level 5.
package distractor

import (
	"strconv"

	"github.com/hyperengineering/helix/internal/types"
)

// categoryTokens are the level-1 wrong-type values. Selection is keyed off
// the fact's operands so the function stays deterministic.
var categoryTokens = []string{"fish", "blue", "triangle", "Tuesday", "cloud"}

// For returns exactly one distractor for the fact at the given boundary
// level. The function is pure: the same fact and level always produce the
// same value. Levels outside [1,5] clamp to the nearest bound.
func For(fact types.Fact, level int) string {
	if level < 1 {
		level = 1
	}
	if level > 5 {
		level = 5
	}

	answer, err := strconv.Atoi(fact.Answer)
	if err != nil {
		// Non-numeric answers can only be confused categorically.
		return pickToken(fact)
	}

	switch level {
	case 1:
		return pickToken(fact)
	case 2:
		return strconv.Itoa(magnitudeSlip(answer))
	case 3:
		return strconv.Itoa(operationSlip(fact, answer))
	case 4:
		return strconv.Itoa(answer + 4)
	default:
		return strconv.Itoa(answer + 1)
	}
}

func pickToken(fact types.Fact) string {
	idx := (fact.OperandA + fact.OperandB) % len(categoryTokens)
	if idx < 0 {
		idx = -idx
	}
	return categoryTokens[idx]
}

// magnitudeSlip keeps the digits but moves the decimal point: ÷10 when the
// answer divides cleanly, ×10 otherwise. Zero has no other magnitude, so
// it falls back to the same pattern offset the operation slip uses.
func magnitudeSlip(answer int) int {
	if answer == 0 {
		return answer + 4
	}
	if answer%10 == 0 {
		return answer / 10
	}
	return answer * 10
}

// operationSlip applies a different plausible operation to the same
// operands. When the slip collides with the true answer (2+2 vs 2×2), fall
// back to a pattern slip so the question still has one wrong choice.
func operationSlip(fact types.Fact, answer int) int {
	a, b := fact.OperandA, fact.OperandB

	var wrong int
	switch fact.Operation {
	case types.ConceptMultiplication:
		wrong = a + b
	case types.ConceptAddition:
		wrong = a * b
	case types.ConceptSubtraction:
		wrong = a + b
	case types.ConceptDivision:
		wrong = a - b
	case types.ConceptDoubling:
		wrong = a / 2
	case types.ConceptHalving:
		wrong = a * 2
	default:
		wrong = a + b
	}

	if wrong == answer {
		return answer + 4
	}
	return wrong
}
