package entity

import "fmt"

// JobStatus 图片生成任务状态
type JobStatus string

const (
	JobCreated JobStatus = "CREATED"
	JobWaiting JobStatus = "WAITING"
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
)

// jobRank orders statuses; a job may only move to a higher rank.
var jobRank = map[JobStatus]int{
	JobCreated: 0,
	JobWaiting: 1,
	JobRunning: 2,
	JobSuccess: 3,
	JobFailed:  3,
}

// Valid 判断状态是否合法
func (s JobStatus) Valid() bool {
	_, ok := jobRank[s]
	return ok
}

// IsTerminal 是否为终态
func (s JobStatus) IsTerminal() bool {
	return s == JobSuccess || s == JobFailed
}

// JobInfo 任务诊断信息
type JobInfo struct {
	QueuePosition int    `json:"queuePosition,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	ErrorDetail   string `json:"errorDetail,omitempty"`
}

// ImageGenerationJob is a polled, asynchronous image-generation task owned
// by the message that requested it.
type ImageGenerationJob struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	CreatedAt int64     `json:"created"`
	Status    JobStatus `json:"status"`
	Prompt    string    `json:"prompt,omitempty"`
	Size      string    `json:"size,omitempty"`
	Result    []string  `json:"result,omitempty"`
	Info      *JobInfo  `json:"info,omitempty"`
}

// Advance moves the job forward. Re-reporting the current status is a no-op.
func (j *ImageGenerationJob) Advance(to JobStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, to)
	}
	if to == j.Status {
		return nil
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, j.Status)
	}
	if jobRank[to] < jobRank[j.Status] {
		return fmt.Errorf("%w: %s -> %s", ErrJobStatusRegression, j.Status, to)
	}
	j.Status = to
	return nil
}

// Complete records the result URLs and marks the job successful.
func (j *ImageGenerationJob) Complete(urls []string) error {
	if err := j.Advance(JobSuccess); err != nil {
		return err
	}
	j.Result = append([]string(nil), urls...)
	return nil
}

// Fail marks the job failed with diagnostic info.
func (j *ImageGenerationJob) Fail(code, detail string) error {
	if err := j.Advance(JobFailed); err != nil {
		return err
	}
	if j.Info == nil {
		j.Info = &JobInfo{}
	}
	j.Info.ErrorCode = code
	j.Info.ErrorDetail = detail
	return nil
}

// Validate 校验任务
func (j *ImageGenerationJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: missing job id", ErrInvalidJobStatus)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, j.Status)
	}
	return nil
}

// Clone 深拷贝
func (j *ImageGenerationJob) Clone() *ImageGenerationJob {
	cp := *j
	cp.Result = append([]string(nil), j.Result...)
	if j.Info != nil {
		info := *j.Info
		cp.Info = &info
	}
	return &cp
}
