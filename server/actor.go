package server

// run 会话 actor 循环：逐个执行提交的操作，同一空间内的 Join/Move/Depart 严格串行。
// 任何操作结束后若花名册为空，会话即退役：从注册表移除并关闭 done，
// 此后所有提交都返回 ErrSessionRetired。
func (s *Session) run() {
	defer close(s.done)
	for op := range s.ops {
		op()
		if len(s.presences) == 0 {
			s.retire()
			return
		}
	}
}

// call 提交一个操作并等待其执行完毕
// ops 为无缓冲通道：提交成功即表示 actor 已接收，该操作一定会被执行
func (s *Session) call(op func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		op()
	}
	select {
	case s.ops <- wrapped:
	case <-s.done:
		return ErrSessionRetired
	}
	<-finished
	return nil
}

func (s *Session) retire() {
	if s.onRetire != nil {
		s.onRetire(s)
	}
	if s.metrics != nil {
		s.metrics.IncSessionRetired()
	}
	Log.Debugw("space session retired", "space", s.ID)
}
