package job

// JobQueue is the view of the queue the processor drives.
type JobQueue interface {
	HasPending() bool
	NextPending() (Job, bool)
	MarkProcessing(id string) bool
	MarkCompleted(id string) bool
	MarkFailed(id, message string) bool
}

var _ JobQueue = (*Queue)(nil)
