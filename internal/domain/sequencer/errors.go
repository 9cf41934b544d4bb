package sequencer

import "errors"

// Sentinel kinds for sequencing errors.
var (
	ErrMalformedGame = errors.New("malformed game")
	ErrNoValidGames  = errors.New("session has no valid games")
	ErrOutOfOrder    = errors.New("session completed before a rated session of a participant")
)

// Reasons a game is skipped.
const (
	ReasonInvalidNumber   = "invalid_game_number"
	ReasonDuplicateNumber = "duplicate_game_number"
	ReasonMissingPlayer   = "missing_player"
	ReasonDuplicatePlayer = "duplicate_players"
	ReasonMissingStriche  = "missing_striche"
	ReasonInvalidInput    = "invalid_input"
)
