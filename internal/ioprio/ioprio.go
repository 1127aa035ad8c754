package ioprio

import "fmt"

// Class is an I/O scheduling class.
type Class int

// I/O scheduling classes as defined by the Linux kernel.
const (
	ClassNone Class = iota
	ClassRealtime
	ClassBestEffort
	ClassIdle
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRealtime:
		return "realtime"
	case ClassBestEffort:
		return "best-effort"
	case ClassIdle:
		return "idle"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

const (
	classShift = 13
	levelMask  = (1 << classShift) - 1

	// LowestLevel is the lowest priority within a class.
	LowestLevel = 7
)

// Priority is a class and a level within it; higher levels run later.
type Priority struct {
	Class Class
	Level int
}

func (p Priority) String() string {
	return fmt.Sprintf("%s/%d", p.Class, p.Level)
}

func (p Priority) encode() int {
	return int(p.Class)<<classShift | (p.Level & levelMask)
}

func decode(v int) Priority {
	return Priority{Class: Class(v >> classShift), Level: v & levelMask}
}

// Lower sets the best-effort class at the lowest level.
func Lower() error {
	return Set(Priority{Class: ClassBestEffort, Level: LowestLevel})
}
