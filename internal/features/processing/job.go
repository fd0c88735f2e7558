package processing

import (
	"encoding/json"
	"fmt"
)

// TaskTypeProcessFile is the job type understood by every queue driver.
const TaskTypeProcessFile = "process_file"

// ProcessFileJob is the unit of work handed to the pipeline.
type ProcessFileJob struct {
	FileID string `json:"file_id"`
}

func (j ProcessFileJob) Payload() ([]byte, error) {
	return json.Marshal(j)
}

func ParseProcessFileJob(payload []byte) (ProcessFileJob, error) {
	var job ProcessFileJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("decode %s payload: %w", TaskTypeProcessFile, err)
	}
	if job.FileID == "" {
		return job, fmt.Errorf("%s payload has no file_id", TaskTypeProcessFile)
	}
	return job, nil
}
