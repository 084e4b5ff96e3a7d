/*
 * @module service/event_service
 * @description 事件管理服务，监听注册表变更通知并通过SSE推送给前端
 * @architecture 事件驱动架构 - 业务服务层
 * @stateFlow 注册表供给 -> pg_notify -> 监听器 -> SSE客户端推送
 * @rules 通知是尽力而为的缓存失效信号，丢失不影响注册表数据正确性
 * @dependencies github.com/lib/pq, bireport-service/service/registry
 * @refs service/registry/provisioner.go, api/controllers/event_controller.go
 */

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"bireport-service/service/registry"
)

// RegistryEvent 推送给前端的注册表变更事件
type RegistryEvent struct {
	Type      string    `json:"type"`    // registry_changed
	Payload   string    `json:"payload"` // 变更的模型名
	Timestamp time.Time `json:"timestamp"`
}

// SSEClient SSE客户端连接
type SSEClient struct {
	ID      string
	Channel chan *RegistryEvent
	Done    chan bool
}

// EventService 事件管理服务
type EventService struct {
	connections map[string]*SSEClient // connectionID -> client
	mu          sync.RWMutex
	dbListener  *pq.Listener
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewEventService 创建事件服务实例并启动数据库监听器
func NewEventService() *EventService {
	ctx, cancel := context.WithCancel(context.Background())

	service := &EventService{
		connections: make(map[string]*SSEClient),
		ctx:         ctx,
		cancel:      cancel,
	}

	go service.startDBListener()

	return service
}

// AddConnection 添加SSE连接
func (s *EventService) AddConnection() *SSEClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	client := &SSEClient{
		ID:      uuid.New().String(),
		Channel: make(chan *RegistryEvent, 100), // 缓冲100个事件
		Done:    make(chan bool),
	}
	s.connections[client.ID] = client

	slog.Info("SSE连接已建立", "connection_id", client.ID, "total", len(s.connections))
	return client
}

// RemoveConnection 移除SSE连接
func (s *EventService) RemoveConnection(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.connections[connectionID]; ok {
		close(client.Done)
		delete(s.connections, connectionID)
		slog.Info("SSE连接已断开", "connection_id", connectionID, "total", len(s.connections))
	}
}

// Broadcast 向所有SSE客户端广播事件
func (s *EventService) Broadcast(event *RegistryEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.connections {
		select {
		case client.Channel <- event:
		default:
			// 客户端缓冲已满，丢弃本条通知
			slog.Warn("SSE客户端缓冲已满，丢弃事件", "connection_id", client.ID)
		}
	}
}

// Stop 停止事件服务
func (s *EventService) Stop() {
	s.cancel()
	if s.dbListener != nil {
		s.dbListener.Close()
	}
}

// startDBListener 启动数据库监听器，订阅注册表变更通道
func (s *EventService) startDBListener() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "postgres")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")

		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}

	s.dbListener = pq.NewListener(connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("PostgreSQL监听器事件", "event", ev, "error", err)
		}
	})

	if err := s.dbListener.Listen(registry.NotifyChannel); err != nil {
		slog.Error("监听注册表变更通道失败", "channel", registry.NotifyChannel, "error", err)
		return
	}

	slog.Info("注册表变更监听器已启动", "channel", registry.NotifyChannel)

	for {
		select {
		case notification := <-s.dbListener.Notify:
			if notification != nil {
				s.handleNotification(notification)
			}
		case <-s.ctx.Done():
			slog.Info("注册表变更监听器已停止")
			return
		}
	}
}

// handleNotification 把数据库通知转换为SSE事件并广播
func (s *EventService) handleNotification(notification *pq.Notification) {
	event := &RegistryEvent{
		Type:      "registry_changed",
		Payload:   notification.Extra,
		Timestamp: time.Now(),
	}
	s.Broadcast(event)
}

// MarshalEvent 序列化事件为SSE数据行
func MarshalEvent(event *RegistryEvent) string {
	data, err := json.Marshal(event)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
