package model

// JobDescriptor identifies a running training process discovered on a node.
// Unlike MetricsRecord, the jobs log is rewritten (not appended) each tick:
// there is no history, only the current set of running jobs.
type JobDescriptor struct {
	Node       string   `json:"node"`
	Session    string   `json:"session"`
	PID        int      `json:"pid"`
	Uptime     string   `json:"uptime"`
	LogFile    string   `json:"log_file"`
	LogPreview []string `json:"log_preview"`
}

// Session derives the stable session identifier train:<owner>:<project>:<mode>.
func Session(owner, project, mode string) string {
	return "train:" + owner + ":" + project + ":" + mode
}
