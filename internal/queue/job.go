package queue

// ConvertJob is the durable message body carried by the Redis Stream.
// No bytes here; the worker operates on the shared staging directory, so
// the filename is the de-facto job key. The body is a self-contained
// snapshot of the job; nothing mutates it after publish.
type ConvertJob struct {
	Xlsx           string `json:"xlsx"`
	LoOptions      string `json:"lo_options,omitempty"`
	DeleteOriginal bool   `json:"delete_original,omitempty"`
}
