package core

import "time"

// TaskStatus is the durable queue state machine. PENDING→RUNNING is the only
// transition that increments attempts, and it happens atomically in the store.
type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskRunning TaskStatus = "RUNNING"
	TaskDone    TaskStatus = "DONE"
	TaskFailed  TaskStatus = "FAILED"
)

// TaskTypeAnalyze is the cold-path deep analysis enqueued with every
// position open.
const TaskTypeAnalyze = "ANALYZE"

// Cold-path error codes recorded in the task row's last_error.
const (
	ErrCodeJudgeParse = "ERR_JUDGE_PARSE"
	ErrCodeJSONParse  = "ERR_JSON_PARSE"
	ErrCodeValidation = "ERR_VALIDATION"
	ErrCodeWorker     = "ERR_WORKER"
)

// AsyncTask is one durable work item. EntityID is the position id for
// ANALYZE tasks. Attempts reflects successful claims only.
type AsyncTask struct {
	TaskID    string
	TaskType  string
	EntityID  string
	Status    TaskStatus
	Attempts  int
	NextRunAt time.Time
	LastError string
	Payload   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
