package core

// HealthLevel is the severity of one heartbeat check.
type HealthLevel int

const (
	HealthOK HealthLevel = iota
	HealthWarning
	HealthAlert
	HealthCritical
)

func (l HealthLevel) String() string {
	switch l {
	case HealthOK:
		return "OK"
	case HealthWarning:
		return "WARNING"
	case HealthAlert:
		return "ALERT"
	case HealthCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// NotifyLevel is the operator notification urgency, L1 lowest to L4 highest.
type NotifyLevel int

const (
	NotifyL1 NotifyLevel = iota + 1
	NotifyL2
	NotifyL3
	NotifyL4
)

func (l NotifyLevel) String() string {
	switch l {
	case NotifyL1:
		return "L1"
	case NotifyL2:
		return "L2"
	case NotifyL3:
		return "L3"
	case NotifyL4:
		return "L4"
	}
	return "L?"
}
