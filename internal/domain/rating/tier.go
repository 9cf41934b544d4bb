package rating

// Tier is the named rank band of a rating.
type Tier struct {
	Name  string  `json:"name"`
	Emoji string  `json:"emoji"`
	Min   float64 `json:"min"`
}

// tiers is ordered from highest to lowest threshold; the baseline 100 opens
// the student tier.
var tiers = []Tier{
	{Name: "Göpf Egg", Emoji: "👼", Min: 150},
	{Name: "Jassgott", Emoji: "🔱", Min: 145},
	{Name: "Jasskönig", Emoji: "👑", Min: 140},
	{Name: "Grossmeister", Emoji: "🏆", Min: 135},
	{Name: "Jasser mit Auszeichnung", Emoji: "🎖", Min: 130},
	{Name: "Diamantjasser II", Emoji: "💎", Min: 125},
	{Name: "Diamantjasser I", Emoji: "💍", Min: 120},
	{Name: "Goldjasser", Emoji: "🥇", Min: 115},
	{Name: "Silberjasser", Emoji: "🥈", Min: 110},
	{Name: "Bronzejasser", Emoji: "🥉", Min: 105},
	{Name: "Jassstudent", Emoji: "👨‍🎓", Min: 100},
	{Name: "Kleeblatt vierblättrig", Emoji: "🍀", Min: 95},
	{Name: "Kleeblatt dreiblättrig", Emoji: "☘️", Min: 90},
	{Name: "Sprössling", Emoji: "🌱", Min: 85},
	{Name: "Hahn", Emoji: "🐓", Min: 80},
	{Name: "Huhn", Emoji: "🐔", Min: 75},
	{Name: "Kücken", Emoji: "🐥", Min: 70},
	{Name: "Chlaus", Emoji: "🎅", Min: 65},
	{Name: "Chäs", Emoji: "🧀", Min: 60},
	{Name: "Ente", Emoji: "🦆", Min: 55},
	{Name: "Gurke", Emoji: "🥒", Min: 50},
}

var bottomTier = Tier{Name: "Just Egg", Emoji: "🥚"}

// TierFor returns the tier band containing rating.
func TierFor(rating float64) Tier {
	for _, t := range tiers {
		if rating >= t.Min {
			return t
		}
	}
	return bottomTier
}
