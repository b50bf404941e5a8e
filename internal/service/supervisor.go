package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/internal/pkg/logger"
)

type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor 管理自动生成任务的后台循环，每个任务最多一个循环
type Supervisor struct {
	mu   sync.Mutex
	runs map[int64]*runHandle
	log  *zap.Logger
}

func NewSupervisor(log *zap.Logger) *Supervisor {
	return &Supervisor{
		runs: make(map[int64]*runHandle),
		log:  logger.OrNop(log),
	}
}

// Launch 已有循环时返回 false。循环使用独立的 context，不受请求生命周期影响。
func (s *Supervisor) Launch(jobID int64, run func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[jobID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{cancel: cancel, done: make(chan struct{})}
	s.runs[jobID] = h

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job loop panicked", zap.Int64("job_id", jobID), zap.Any("panic", r))
			}
			s.mu.Lock()
			if s.runs[jobID] == h {
				delete(s.runs, jobID)
			}
			s.mu.Unlock()
			cancel()
			close(h.done)
		}()
		run(ctx)
	}()
	return true
}

// Cancel 取消循环并等待其退出
func (s *Supervisor) Cancel(jobID int64) {
	s.mu.Lock()
	h, ok := s.runs[jobID]
	s.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()
	<-h.done
}

// Wait 等待循环自然结束
func (s *Supervisor) Wait(jobID int64) {
	s.mu.Lock()
	h, ok := s.runs[jobID]
	s.mu.Unlock()
	if ok {
		<-h.done
	}
}

func (s *Supervisor) Running(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[jobID]
	return ok
}

// Count 当前运行中的循环数
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Shutdown 取消全部循环，ctx 超时后不再等待
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*runHandle, 0, len(s.runs))
	for _, h := range s.runs {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
