package domain

// Archetype is a behavioral segment used to bias message tone and content.
type Archetype string

const (
	ArchetypeHabitMaster        Archetype = "habit_master"
	ArchetypeQualityFocused     Archetype = "quality_focused"
	ArchetypeConsistencyBuilder Archetype = "consistency_builder"
	ArchetypeStreakEnthusiast   Archetype = "streak_enthusiast"
	ArchetypeGettingStarted     Archetype = "getting_started"
)

// DefaultTone is the tone used when the user has not chosen one.
func (a Archetype) DefaultTone() Tone {
	switch a {
	case ArchetypeHabitMaster, ArchetypeStreakEnthusiast:
		return ToneCelebratory
	case ArchetypeQualityFocused:
		return ToneDirect
	case ArchetypeConsistencyBuilder:
		return ToneEncouraging
	}
	return ToneGentle
}
