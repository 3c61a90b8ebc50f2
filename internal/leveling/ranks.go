package leveling

var rankLadder = []string{
	"Ensign",
	"Lieutenant",
	"Lieutenant Commander",
	"Commander",
	"Captain",
	"Vice Admiral",
	"Admiral",
	"Fleet Admiral",
}

// RankName maps a level to its fleet rank. Level 0 and 1 are both Ensign;
// levels past the ladder stay Fleet Admiral.
func RankName(level int) string {
	if level <= 1 {
		return rankLadder[0]
	}
	if level > len(rankLadder) {
		return rankLadder[len(rankLadder)-1]
	}
	return rankLadder[level-1]
}
