package assembly

// Tier is a strict assembly priority. Lower values are more urgent; a lower
// tier never starts while a higher tier has outstanding work.
type Tier int

const (
	// TierLive is the currently playing stitch: recipe, facts, and fully
	// generated questions required.
	TierLive Tier = iota + 1
	// TierReady is the next stitch, assembled fully ahead of rotation.
	TierReady
	// TierPreparing is the following stitch: recipe and facts only;
	// questions are generated lazily while the current stitch plays.
	TierPreparing
	// TierBufferFacts prefetches facts for the upcoming stitches of every
	// tube, no questions.
	TierBufferFacts
	// TierBufferRecipes prefetches recipes further ahead, facts not yet
	// required.
	TierBufferRecipes
)

// tierCount is the number of priority tiers.
const tierCount = 5

func (t Tier) String() string {
	switch t {
	case TierLive:
		return "live"
	case TierReady:
		return "ready"
	case TierPreparing:
		return "preparing"
	case TierBufferFacts:
		return "buffer-facts"
	case TierBufferRecipes:
		return "buffer-recipes"
	default:
		return "unknown"
	}
}

// blocking reports whether failures at this tier surface to the consumer.
// Buffer and preparing tiers degrade silently.
func (t Tier) blocking() bool {
	return t == TierLive || t == TierReady
}
