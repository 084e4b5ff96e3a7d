/*
 * @module service/sqlview/refresh_scheduler
 * @description 物化视图刷新调度器，按定时任务表周期触发REFRESH MATERIALIZED VIEW
 * @architecture 分层架构 - 服务层
 * @stateFlow 启动调度器 -> 加载任务 -> 定时触发刷新 -> 更新空间占用
 * @rules 支持分布式锁防止多实例重复刷新；刷新失败只记录日志，不影响后续调度
 * @dependencies github.com/robfig/cron/v3, github.com/prometheus/client_golang, service/distributed_lock
 * @refs service/sqlview/service.go, service/registry/provisioner.go
 */

package sqlview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"bireport-service/service/distributed_lock"
	"bireport-service/service/models"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bireport_materialized_refresh_total",
		Help: "物化视图刷新次数，按结果分类",
	}, []string{"status"})

	refreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bireport_materialized_refresh_duration_seconds",
		Help:    "物化视图刷新耗时",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"view"})
)

// RefreshScheduler 物化视图刷新调度器
type RefreshScheduler struct {
	db              *gorm.DB
	service         *Service
	cron            *cron.Cron
	entries         map[string]cron.EntryID // 定时任务ID -> cron条目
	mu              sync.Mutex
	distributedLock distributed_lock.DistributedLock
	started         bool
}

// NewRefreshScheduler 创建刷新调度器
func NewRefreshScheduler(db *gorm.DB, service *Service) *RefreshScheduler {
	return &RefreshScheduler{
		db:      db,
		service: service,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// SetDistributedLock 设置分布式锁，多实例部署时防止重复刷新
func (rs *RefreshScheduler) SetDistributedLock(lock distributed_lock.DistributedLock) {
	rs.distributedLock = lock
	if lock != nil {
		slog.Info("物化视图刷新调度器已启用分布式锁")
	}
}

// Start 启动调度器并加载定时任务表中的存量任务
func (rs *RefreshScheduler) Start() error {
	rs.mu.Lock()
	if rs.started {
		rs.mu.Unlock()
		return fmt.Errorf("调度器已经启动")
	}
	rs.started = true
	rs.mu.Unlock()

	var jobs []models.CronJob
	if err := rs.db.Where("is_active = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("加载刷新任务失败: %w", err)
	}

	for i := range jobs {
		rs.Register(&jobs[i])
	}

	rs.cron.Start()
	slog.Info("物化视图刷新调度器启动完成", "jobs", len(jobs))
	return nil
}

// Stop 停止调度器
func (rs *RefreshScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.started {
		return
	}
	rs.cron.Stop()
	rs.started = false
	slog.Info("物化视图刷新调度器已停止")
}

// Register 登记一个刷新任务
func (rs *RefreshScheduler) Register(job *models.CronJob) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if entryID, ok := rs.entries[job.ID]; ok {
		rs.cron.Remove(entryID)
	}

	jobID, sqlViewID := job.ID, job.SQLViewID
	entryID, err := rs.cron.AddFunc(job.CronExpr, func() {
		rs.runRefresh(jobID, sqlViewID)
	})
	if err != nil {
		slog.Error("登记刷新任务失败", "job_id", job.ID, "cron_expr", job.CronExpr, "error", err)
		return
	}
	rs.entries[job.ID] = entryID
	slog.Info("已登记刷新任务", "job_id", job.ID, "sql_view_id", job.SQLViewID, "cron_expr", job.CronExpr)
}

// Unregister 注销一个刷新任务
func (rs *RefreshScheduler) Unregister(jobID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if entryID, ok := rs.entries[jobID]; ok {
		rs.cron.Remove(entryID)
		delete(rs.entries, jobID)
		slog.Info("已注销刷新任务", "job_id", jobID)
	}
}

// runRefresh 执行一次刷新，持有分布式锁时才真正执行
func (rs *RefreshScheduler) runRefresh(jobID, sqlViewID string) {
	ctx := context.Background()

	if rs.distributedLock != nil {
		acquired, err := rs.distributedLock.TryLock(ctx, jobID, 10*time.Minute)
		if err != nil {
			slog.Error("获取刷新锁失败", "job_id", jobID, "error", err)
			return
		}
		if !acquired {
			slog.Debug("刷新任务已被其他实例执行，跳过", "job_id", jobID)
			return
		}
		defer func() {
			if err := rs.distributedLock.Unlock(ctx, jobID); err != nil {
				slog.Warn("释放刷新锁失败", "job_id", jobID, "error", err)
			}
		}()
	}

	start := time.Now()
	err := rs.service.Refresh(sqlViewID)
	refreshDuration.WithLabelValues(sqlViewID).Observe(time.Since(start).Seconds())
	if err != nil {
		refreshTotal.WithLabelValues("failed").Inc()
		slog.Error("物化视图刷新失败", "sql_view_id", sqlViewID, "error", err)
		return
	}
	refreshTotal.WithLabelValues("success").Inc()
	slog.Info("物化视图刷新完成", "sql_view_id", sqlViewID, "duration_ms", time.Since(start).Milliseconds())
}
