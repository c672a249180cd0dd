package domain

// EventKind classifies a client-reported occurrence that may pay out.
type EventKind string

const (
	// KindTaskCompleted pays the reward configured on the task.
	KindTaskCompleted EventKind = "task_completed"
	// KindManual is a manual compensation entered by an operator.
	KindManual EventKind = "manual"
)
