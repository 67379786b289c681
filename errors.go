package atomforge

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("atomforge: invalid configuration")

	// ErrNoConversations is returned when the input directory yields no
	// usable conversations.
	ErrNoConversations = errors.New("atomforge: no conversations found in input")

	// ErrNoRecords is returned when a stage needs linearized
	// conversations that have not been produced yet.
	ErrNoRecords = errors.New("atomforge: no linearized conversations (run linearize first)")

	// ErrNoAtoms is returned when a stage needs extracted atoms that
	// have not been produced yet.
	ErrNoAtoms = errors.New("atomforge: no atoms found (run extract first)")

	// ErrNoTopics is returned when the topic registry is missing or
	// empty.
	ErrNoTopics = errors.New("atomforge: no topics discovered (run discover-topics first)")
)
