package task

// TaskStats 聚合了任务状态的统计信息，供健康检查使用。
type TaskStats struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Running       int `json:"running"`
	InputRequired int `json:"inputRequired"`
	AuthRequired  int `json:"authRequired"`
	Completed     int `json:"completed"`
	Canceled      int `json:"canceled"`
	Rejected      int `json:"rejected"`
	Failed        int `json:"failed"`
}

func (s *TaskStats) add(status Status) {
	s.Total++
	switch status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusInputRequired:
		s.InputRequired++
	case StatusAuthRequired:
		s.AuthRequired++
	case StatusCompleted:
		s.Completed++
	case StatusCanceled:
		s.Canceled++
	case StatusRejected:
		s.Rejected++
	case StatusFailed:
		s.Failed++
	}
}
