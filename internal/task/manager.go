package task

import (
	"fmt"

	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/gateway"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/logic"
	"github.com/go-co-op/gocron/v2"
)

// Job 定时任务
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	dispatch  *PayoutDispatchJob
	jobs      []Job
}

// NewManager 创建任务管理器，checker 为空时不启用链上对账
func NewManager(payouts *logic.PayoutLogic, rail gateway.PayoutRail, checker StatusChecker, cfg config.TaskConfig) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	dispatch, err := NewPayoutDispatchJob(payouts, rail, cfg)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		scheduler: s,
		dispatch:  dispatch,
		jobs:      []Job{dispatch},
	}
	if checker != nil {
		m.jobs = append(m.jobs, NewPayoutReconcileJob(payouts, checker, cfg))
	}
	return m, nil
}

// Dispatcher 打款派发器，供业务逻辑通知新打款
func (m *Manager) Dispatcher() *PayoutDispatchJob {
	return m.dispatch
}

// Start 注册所有任务并启动调度器
func (m *Manager) Start() error {
	for _, job := range m.jobs {
		_, err := m.scheduler.NewJob(
			job.GetSchedule(),
			gocron.NewTask(job.Execute),
			gocron.WithName(job.GetName()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("register job %s: %w", job.GetName(), err)
		}
		logger.Info("Registered job %s", job.GetName())
	}

	m.scheduler.Start()
	logger.Info("Task manager started successfully")
	return nil
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	m.dispatch.Release()
	logger.Info("Task manager stopped")
}
